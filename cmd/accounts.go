package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
	"github.com/nextlevelbuilder/waclaw/internal/config"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect configured WhatsApp accounts",
	}
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsShowCmd())
	return cmd
}

type accountEntry struct {
	ID          string `json:"id"`
	DMPolicy    string `json:"dm_policy"`
	GroupPolicy string `json:"group_policy"`
	Allowlisted int    `json:"allowlisted"`
	Paired      bool   `json:"paired"`
}

func accountsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured accounts and their pairing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			entries := make([]accountEntry, 0, len(cfg.Whatsapp.Accounts))
			for id, acct := range cfg.Whatsapp.Accounts {
				rc := toAccountConfig(acct)
				entry := accountEntry{
					ID:          id,
					DMPolicy:    string(rc.DMPolicy),
					GroupPolicy: string(rc.GroupPolicy),
					Allowlisted: len(rc.Allowlist),
				}
				entry.Paired = storedDeviceExists(cfg.DataDir, id, rc)
				entries = append(entries, entry)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ACCOUNT\tDM POLICY\tGROUP POLICY\tALLOWLISTED\tPAIRED\n")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\n", e.ID, e.DMPolicy, e.GroupPolicy, e.Allowlisted, e.Paired)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func accountsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show an account's stored device identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			id := config.NormalizeAccountID(args[0])
			acct, ok := cfg.Whatsapp.Accounts[id]
			if !ok {
				return fmt.Errorf("account %q is not configured", id)
			}

			rc := toAccountConfig(acct)
			st, err := store.OpenBolt(accountStoreDir(cfg.DataDir, id, rc))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()
			device, err := st.LoadDevice(ctx)
			if err != nil {
				return err
			}
			mappings, err := st.AllLIDMappings(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("account:      %s\n", id)
			if device == nil {
				fmt.Println("device:       not paired")
			} else {
				fmt.Printf("device:       %s\n", device.JID)
				fmt.Printf("push name:    %s\n", device.PushName)
				fmt.Printf("platform:     %s\n", device.Platform)
				fmt.Printf("initialized:  %v\n", device.Initialized)
			}
			fmt.Printf("lid mappings: %d\n", len(mappings))
			return nil
		},
	}
}

func accountStoreDir(dataDir, id string, cfg whatsapp.AccountConfig) string {
	if cfg.StorePath != "" {
		return cfg.StorePath
	}
	return filepath.Join(dataDir, "whatsapp", id)
}

// storedDeviceExists reports whether the account's durable store already
// holds a paired device.
func storedDeviceExists(dataDir, id string, cfg whatsapp.AccountConfig) bool {
	dir := accountStoreDir(dataDir, id, cfg)
	if _, err := os.Stat(filepath.Join(dir, "store.db")); err != nil {
		return false
	}
	st, err := store.OpenBolt(dir)
	if err != nil {
		return false
	}
	defer st.Close()
	exists, err := st.DeviceExists(context.Background())
	return err == nil && exists
}
