package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Attam2213/messenger-release/crypto"
)

func init() {
	rootCmd.AddCommand(addContactCmd)
	rootCmd.AddCommand(listContactsCmd)
}

var addContactCmd = &cobra.Command{
	Use:   "add-contact <name> <public-key>",
	Short: "Add a peer to the address book",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, key := args[0], args[1]
		if _, err := crypto.ParsePublicKey(key); err != nil {
			fmt.Println("Invalid public key:", err)
			return
		}
		cfg.Contacts[name] = key
		if err := saveConfig(); err != nil {
			fmt.Println("Error saving config:", err)
			return
		}
		fmt.Printf("Added '%s' (%s)\n", name, crypto.Fingerprint(key))
	},
}

var listContactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List the address book",
	Run: func(cmd *cobra.Command, args []string) {
		if len(cfg.Contacts) == 0 {
			fmt.Println("No contacts. Add one with 'messenger add-contact'.")
			return
		}
		for name, key := range cfg.Contacts {
			fmt.Printf("%-20s %s\n", name, crypto.Fingerprint(key))
		}
	},
}
