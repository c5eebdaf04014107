package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	messenger "github.com/Attam2213/messenger-release"
	"github.com/Attam2213/messenger-release/crypto"
	"github.com/Attam2213/messenger-release/storage"
	"github.com/Attam2213/messenger-release/syncer"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run an interactive session: print incoming messages, send with /send",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMessenger()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if !m.HasIdentity() {
			fmt.Println("No identity. Run 'messenger identity create' first.")
			return
		}

		m.OnMessage(func(fromKey, groupID string) {
			printLatest(m, fromKey, groupID)
		})
		m.OnTyping(func(fromKey string, isTyping bool) {
			if isTyping {
				fmt.Printf("[%s is typing...]\n", contactName(fromKey))
			}
		})
		m.OnGroupCreated(func(groupID string) {
			fmt.Println("[invited to group", groupID+"]")
		})
		m.OnSyncStatus(func(s syncer.Status) {
			if s.State == syncer.StateError {
				fmt.Println("[sync error:", s.Message+"]")
			}
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := m.Start(ctx); err != nil {
			fmt.Println("Error starting sync:", err)
			return
		}
		defer m.Stop()

		fmt.Println("Listening as", crypto.Fingerprint(m.PublicKey()))
		fmt.Println("Commands: /send <contact> <text>, /group <group-id> <text>, /creategroup <name> <contact>..., /quit")

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if done := handleLine(ctx, m, scanner.Text()); done {
				return
			}
		}
	},
}

func handleLine(ctx context.Context, m *messenger.Messenger, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "/quit":
		return true
	case "/send":
		if len(fields) < 3 {
			fmt.Println("Usage: /send <contact> <text>")
			return false
		}
		toKey := cfg.resolveKey(fields[1])
		text := strings.Join(fields[2:], " ")
		if _, err := m.SendMessage(ctx, toKey, text); err != nil {
			fmt.Println("Error:", err)
		}
	case "/group":
		if len(fields) < 3 {
			fmt.Println("Usage: /group <group-id> <text>")
			return false
		}
		text := strings.Join(fields[2:], " ")
		if _, err := m.SendGroupMessage(ctx, fields[1], text); err != nil {
			fmt.Println("Error:", err)
		}
	case "/creategroup":
		if len(fields) < 3 {
			fmt.Println("Usage: /creategroup <name> <contact>...")
			return false
		}
		var members []string
		for _, arg := range fields[2:] {
			members = append(members, cfg.resolveKey(arg))
		}
		groupID, err := m.CreateGroup(ctx, fields[1], members)
		if err != nil {
			fmt.Println("Error:", err)
			return false
		}
		fmt.Println("Created group", groupID)
	default:
		fmt.Println("Unknown command:", fields[0])
	}
	return false
}

// printLatest renders the newest message of a conversation.
func printLatest(m *messenger.Messenger, fromKey, groupID string) {
	var msgs []storage.Message
	var err error
	if groupID != "" {
		msgs, err = m.GroupConversation(groupID)
	} else {
		msgs, err = m.Conversation(fromKey)
	}
	if err != nil || len(msgs) == 0 {
		return
	}

	decoded := m.DecodeMessage(&msgs[len(msgs)-1])
	prefix := contactName(fromKey)
	if groupID != "" {
		prefix = groupID + "/" + prefix
	}
	fmt.Printf("[%s] %s\n", prefix, decoded.Content)
}

// contactName maps a public key back to its address-book name.
func contactName(publicKey string) string {
	for name, key := range cfg.Contacts {
		if key == publicKey {
			return name
		}
	}
	return crypto.Fingerprint(publicKey)
}
