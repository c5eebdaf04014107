package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	messenger "github.com/Attam2213/messenger-release"
	"github.com/Attam2213/messenger-release/envelope"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sendFileCmd)
	sendFileCmd.Flags().String("type", envelope.TypeDocument, "media type: IMAGE, AUDIO, VIDEO or DOCUMENT")
}

// runAndFlush starts the messenger, runs fn, and waits until the outbox
// has been handed to the relay before shutting down.
func runAndFlush(fn func(ctx context.Context, m *messenger.Messenger) error) {
	m, err := newMessenger()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if !m.HasIdentity() {
		fmt.Println("No identity. Run 'messenger identity create' first.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		fmt.Println("Error starting sync:", err)
		return
	}
	defer m.Stop()

	if err := fn(ctx, m); err != nil {
		fmt.Println("Error:", err)
		return
	}

	// Wait for the relay to accept everything we queued.
	for {
		pending, err := m.PendingOutbox()
		if err == nil && pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			fmt.Println("Timed out waiting for the relay; unsent messages were dropped.")
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

var sendCmd = &cobra.Command{
	Use:   "send <contact> <text>",
	Short: "Send an encrypted text message",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		toKey := cfg.resolveKey(args[0])
		runAndFlush(func(ctx context.Context, m *messenger.Messenger) error {
			id, err := m.SendMessage(ctx, toKey, args[1])
			if err != nil {
				return err
			}
			fmt.Println("Queued message", id)
			return nil
		})
	},
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <contact> <file>",
	Short: "Send an encrypted file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		mediaType, _ := cmd.Flags().GetString("type")
		if !envelope.IsMedia(mediaType) {
			fmt.Println("Invalid media type:", mediaType)
			return
		}

		toKey := cfg.resolveKey(args[0])
		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Println("Error reading file:", err)
			return
		}

		runAndFlush(func(ctx context.Context, m *messenger.Messenger) error {
			id, err := m.SendMedia(ctx, toKey, data, mediaType, filepath.Base(args[1]))
			if err != nil {
				return err
			}
			fmt.Println("Queued file", id)
			return nil
		})
	},
}
