package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	messenger "github.com/Attam2213/messenger-release"
)

func init() {
	rootCmd.AddCommand(createGroupCmd)
	rootCmd.AddCommand(sendGroupCmd)
}

var createGroupCmd = &cobra.Command{
	Use:   "create-group <name> <contact>...",
	Short: "Create a group and invite members",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		var members []string
		for _, arg := range args[1:] {
			members = append(members, cfg.resolveKey(arg))
		}

		runAndFlush(func(ctx context.Context, m *messenger.Messenger) error {
			groupID, err := m.CreateGroup(ctx, name, members)
			if err != nil {
				return err
			}
			fmt.Println("Created group", groupID)
			return nil
		})
	},
}

var sendGroupCmd = &cobra.Command{
	Use:   "send-group <group-id> <text>",
	Short: "Send a message to a group",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runAndFlush(func(ctx context.Context, m *messenger.Messenger) error {
			id, err := m.SendGroupMessage(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println("Queued group message", id)
			return nil
		})
	},
}
