package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityCreateCmd)
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityExportCmd)
	identityCmd.AddCommand(identityRestoreCmd)
	identityCmd.AddCommand(identityWipeCmd)
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local identity key pair",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new identity",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMessenger()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if m.HasIdentity() {
			fmt.Println("An identity already exists. Wipe it first to start over.")
			return
		}
		if err := m.CreateIdentity(); err != nil {
			fmt.Println("Error creating identity:", err)
			return
		}
		fmt.Println("Identity created.")
		fmt.Println("Fingerprint:", m.Fingerprint())
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public key and fingerprint",
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
		fmt.Println("Public key: ", m.PublicKey())
		fmt.Println("Fingerprint:", m.Fingerprint())
		fmt.Println("Mailbox:    ", m.RoutingHash())
	},
}

var identityExportCmd = &cobra.Command{
	Use:   "export <password>",
	Short: "Export a password-protected identity backup",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMessenger()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		backup, err := m.ExportIdentity(args[0])
		if err != nil {
			fmt.Println("Error exporting identity:", err)
			return
		}
		fmt.Println(backup)
	},
}

var identityRestoreCmd = &cobra.Command{
	Use:   "restore <password>",
	Short: "Restore an identity backup read from stdin",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMessenger()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		reader := bufio.NewReader(os.Stdin)
		backup, err := reader.ReadString('\n')
		if err != nil && backup == "" {
			fmt.Println("Error reading backup from stdin:", err)
			return
		}
		if err := m.RestoreIdentity(strings.TrimSpace(backup), args[0]); err != nil {
			fmt.Println("Error restoring identity:", err)
			return
		}
		fmt.Println("Identity restored.")
		fmt.Println("Fingerprint:", m.Fingerprint())
	},
}

var identityWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete the identity and all local data",
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newMessenger()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if err := m.WipeIdentity(); err != nil {
			fmt.Println("Error wiping identity:", err)
			return
		}
		fmt.Println("Identity wiped. This cannot be undone.")
	},
}
