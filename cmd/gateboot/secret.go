package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/gateboot/internal/audit"
	"github.com/benaskins/gateboot/internal/keychain"
)

// secretStore returns the system keychain with writes and reads recorded to
// ~/.gateboot/audit.log. The returned func closes the audit log.
func secretStore() (*audit.Store, func(), error) {
	path, err := auditPath()
	if err != nil {
		return nil, nil, err
	}
	log, err := audit.NewLogger(path)
	if err != nil {
		return nil, nil, err
	}
	return audit.WrapStore(keychain.NewSystemStore(), log, "cli"), func() { log.Close() }, nil
}

func auditPath() (string, error) {
	home, err := gatebootHome()
	if err != nil {
		return "", fmt.Errorf("locating home: %w", err)
	}
	return filepath.Join(home, "audit.log"), nil
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage gateway secrets in the system keychain",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret",
	Long:  "Store a secret. If value is omitted, reads from stdin (useful for piping).",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := secretStore()
		if err != nil {
			return err
		}
		defer done()
		key := args[0]

		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			// Read from stdin
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Print("Enter secret value: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				fmt.Println()
				value = string(b)
			} else {
				b, err := os.ReadFile("/dev/stdin")
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				value = strings.TrimRight(string(b), "\n")
			}
		}

		if err := store.Set(key, value); err != nil {
			return err
		}
		fmt.Printf("Secret %q stored\n", key)
		return nil
	},
}

var secretGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := secretStore()
		if err != nil {
			return err
		}
		defer done()
		val, err := store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List stored secret keys",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := keychain.NewSystemStore().List()
		if err != nil {
			return err
		}

		if len(keys) == 0 {
			fmt.Println("No secrets stored")
			return nil
		}

		// Rotation times come from the audit log; a missing log shows none.
		var rotated map[string]time.Time
		if path, err := auditPath(); err == nil {
			entries, _ := audit.ReadEntries(path)
			rotated = audit.LastRotated(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tLAST ROTATED")
		for _, k := range keys {
			last := "-"
			if ts, ok := rotated[k]; ok {
				last = ts.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\n", k, last)
		}
		w.Flush()
		return nil
	},
}

var secretRotateCmd = &cobra.Command{
	Use:   "rotate <key>",
	Short: "Replace a secret with the output of a command",
	Long: `Run --command through /bin/sh and store what it prints as the new value.
The command must print only the value. A failing command leaves the old value.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command, _ := cmd.Flags().GetString("command")
		if command == "" {
			return fmt.Errorf("--command is required")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		store, done, err := secretStore()
		if err != nil {
			return err
		}
		defer done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.Rotate(ctx, args[0], command); err != nil {
			return err
		}
		fmt.Printf("Secret %q rotated\n", args[0])
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove a stored secret",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := secretStore()
		if err != nil {
			return err
		}
		defer done()
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Secret %q deleted\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretRotateCmd.Flags().String("command", "", "shell command that prints the new value")
	secretRotateCmd.Flags().Duration("timeout", time.Minute, "maximum time the command may run")
	secretCmd.AddCommand(secretRotateCmd)
	rootCmd.AddCommand(secretCmd)
}
