package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/waclaw/internal/bus"
	"github.com/nextlevelbuilder/waclaw/internal/channels"
	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/waclaw/internal/config"
	"github.com/nextlevelbuilder/waclaw/internal/messagelog"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the configured WhatsApp accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			if !cfg.Whatsapp.Enabled {
				return fmt.Errorf("whatsapp channel is disabled in %s", cfgPath)
			}
			if len(cfg.Whatsapp.Accounts) == 0 {
				return fmt.Errorf("no whatsapp accounts configured in %s", cfgPath)
			}

			msgLog, err := messagelog.NewSQLiteLog(cfg.MessageLogPath)
			if err != nil {
				return fmt.Errorf("open message log: %w", err)
			}
			defer msgLog.Close()

			eventBus := bus.New()
			eventBus.Subscribe("cli", printEvent)
			sink := &bus.Sink{Bus: eventBus, Logger: slog.Default()}

			plugin := whatsapp.NewPlugin(cfg.DataDir, newClientFactory(cfg.DataDir), sink, msgLog, slog.Default())

			accounts := make(map[string]whatsapp.AccountConfig, len(cfg.Whatsapp.Accounts))
			for id, acct := range cfg.Whatsapp.Accounts {
				accounts[id] = toAccountConfig(acct)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := plugin.StartAccounts(ctx, accounts); err != nil {
				plugin.StopAll()
				return err
			}
			defer plugin.StopAll()

			// Hot-reload config edits into running accounts.
			watcher, err := config.NewWatcher(cfgPath)
			if err == nil {
				watcher.OnChange(func(next *config.Config) {
					applyConfigUpdate(plugin, next)
				})
				if err := watcher.Start(); err != nil {
					slog.Warn("config watcher not started", "error", err)
				} else {
					defer watcher.Stop()
				}
			}

			slog.Info("waclaw running", "accounts", plugin.AccountIDs())
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}
}

// applyConfigUpdate hot-swaps account configs; added or removed accounts
// require a restart and are only reported.
func applyConfigUpdate(plugin *whatsapp.Plugin, cfg *config.Config) {
	for id, acct := range cfg.Whatsapp.Accounts {
		if !plugin.HasAccount(id) {
			slog.Info("new account in config, restart to activate", "account", id)
			continue
		}
		next := toAccountConfig(acct)
		raw, err := json.Marshal(next)
		if err != nil {
			slog.Error("encode updated account config", "account", id, "error", err)
			continue
		}
		if err := plugin.UpdateAccountConfig(id, raw); err != nil {
			slog.Error("apply updated account config", "account", id, "error", err)
		}
	}
	for _, id := range plugin.AccountIDs() {
		if _, ok := cfg.Whatsapp.Accounts[id]; !ok {
			slog.Info("account removed from config, restart to deactivate", "account", id)
		}
	}
}

// toAccountConfig maps the YAML account section onto runtime config,
// filling defaults for omitted fields.
func toAccountConfig(acct config.Account) whatsapp.AccountConfig {
	cfg := whatsapp.DefaultAccountConfig()
	cfg.StorePath = acct.StorePath
	cfg.DefaultModel = acct.DefaultModel
	if acct.DMPolicy != "" {
		cfg.DMPolicy = whatsapp.AccessPolicy(acct.DMPolicy)
	}
	if acct.GroupPolicy != "" {
		cfg.GroupPolicy = whatsapp.AccessPolicy(acct.GroupPolicy)
	}
	cfg.Allowlist = acct.Allowlist
	cfg.GroupAllowlist = acct.GroupAllowlist
	if acct.OtpSelfApproval != nil {
		cfg.OtpSelfApproval = *acct.OtpSelfApproval
	}
	if acct.OtpCooldownSecs > 0 {
		cfg.OtpCooldownSecs = acct.OtpCooldownSecs
	}
	return cfg
}

// printEvent surfaces channel events on the terminal, most importantly
// the pairing QR code.
func printEvent(event channels.ChannelEvent) {
	switch event.Type {
	case channels.EventPairingQrCode:
		fmt.Printf("\n[%s] scan this code with WhatsApp (Linked Devices):\n%s\n\n",
			event.AccountID, event.QRData)
	case channels.EventPairingComplete:
		fmt.Printf("[%s] paired as %q\n", event.AccountID, event.DisplayName)
	case channels.EventPairingFailed:
		fmt.Printf("[%s] pairing failed: %s\n", event.AccountID, event.Reason)
	case channels.EventAccountDisabled:
		fmt.Printf("[%s] account disabled: %s\n", event.AccountID, event.Reason)
	case channels.EventOtpChallenge:
		fmt.Printf("[%s] access code for %s (%s): %s\n",
			event.AccountID, event.SenderName, event.PeerID, event.Code)
	case channels.EventOtpResolved:
		fmt.Printf("[%s] access request from %s: %s\n", event.AccountID, event.PeerID, event.Resolution)
	}
}
