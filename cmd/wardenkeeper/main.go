package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ligun0805/warden-keeper/internal/config"
	"github.com/ligun0805/warden-keeper/internal/keeper"
	"github.com/ligun0805/warden-keeper/internal/logging"
)

var v *viper.Viper

var rootCmd = &cobra.Command{
	Use:   "wardenkeeper",
	Short: "Keep warden accounts active and mint credentials from wallets",
	Long: `wardenkeeper pings the activity endpoint for every credential in the account file,
and can sign in with a list of private keys to mint fresh credentials.

Files (one entry per line):
- tokens.txt        bearer credentials, overwritten by "auth"
- private_keys.txt  64-hex private keys, with or without 0x, # comments allowed
- proxies.txt       proxy URIs used when --use-proxy is set`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	v = config.New()
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.String("accounts", "tokens.txt", "account (credential) file")
	pf.String("keys", "private_keys.txt", "private key file")
	pf.String("proxies", "proxies.txt", "proxy file")
	pf.Bool("use-proxy", false, "route requests through a random proxy from the proxy file")
	pf.Int("max-workers", 0, "max concurrent tasks, 0 = one per account")
	pf.Int("stagger-ms", 500, "delay between task launches")
	pf.String("log-level", "info", "debug | info | warn | error")
	pf.String("log-format", "text", "text | json")
	_ = v.BindPFlag("accounts_file", pf.Lookup("accounts"))
	_ = v.BindPFlag("private_keys_file", pf.Lookup("keys"))
	_ = v.BindPFlag("proxies_file", pf.Lookup("proxies"))
	_ = v.BindPFlag("use_proxy", pf.Lookup("use-proxy"))
	_ = v.BindPFlag("max_workers", pf.Lookup("max-workers"))
	_ = v.BindPFlag("stagger_ms", pf.Lookup("stagger-ms"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = v.BindPFlag("log_format", pf.Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runOneCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(configCmd())
}

func runCmd() *cobra.Command {
	var report string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the activity task for every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			tel := newReport(report)
			return withKeeper(cmd.Context(), tel.attachTo, func(ctx context.Context, k *keeper.Keeper) error {
				if _, err := k.LoadAccounts(); err != nil {
					return err
				}
				// workers are not tied to the command context; an interrupt only stops waiting
				if err := k.RunAll(context.Background()); err != nil {
					return err
				}
				if err := k.Wait(ctx); err != nil {
					return err
				}
				renderStats(os.Stdout, k.Store.Stats())
				return saveReport(tel, report)
			})
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "write per-account outcomes as JSON to this file or directory")
	return cmd
}

func runOneCmd() *cobra.Command {
	var report string
	cmd := &cobra.Command{
		Use:   "run-one <n>",
		Short: "Run the activity task for account n (1-based)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("account number: %w", err)
			}
			tel := newReport(report)
			return withKeeper(cmd.Context(), tel.attachTo, func(ctx context.Context, k *keeper.Keeper) error {
				if _, err := k.LoadAccounts(); err != nil {
					return err
				}
				if err := k.RunOne(context.Background(), n-1); err != nil {
					return err
				}
				if err := k.Wait(ctx); err != nil {
					return err
				}
				renderAccounts(os.Stdout, k.Store.Snapshot()[n-1:n])
				return saveReport(tel, report)
			})
		},
	}
	cmd.Flags().StringVar(&report, "report", "", "write the outcome as JSON to this file or directory")
	return cmd
}

// newReport returns nil when no report was asked for.
func newReport(path string) *telemetry {
	if path == "" {
		return nil
	}
	return newTelemetry()
}

func saveReport(tel *telemetry, path string) error {
	if tel == nil {
		return nil
	}
	out, err := tel.save(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "report written to", out)
	return nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Fetch name, points and creation date for every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeeper(cmd.Context(), nil, func(ctx context.Context, k *keeper.Keeper) error {
				if _, err := k.LoadAccounts(); err != nil {
					return err
				}
				if err := k.RefreshMetadata(ctx); err != nil {
					return err
				}
				if err := k.Wait(ctx); err != nil {
					return err
				}
				renderAccounts(os.Stdout, k.Store.Snapshot())
				return nil
			})
		},
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Sign in with every private key and overwrite the account file with the new credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeeper(cmd.Context(), nil, func(ctx context.Context, k *keeper.Keeper) error {
				n, err := k.Authenticate(ctx)
				if err != nil {
					return err
				}
				if err := k.Wait(ctx); err != nil {
					return err
				}
				if n > 0 {
					renderAccounts(os.Stdout, k.Store.Snapshot())
				}
				return nil
			})
		},
	}
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts in the account file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeeper(cmd.Context(), nil, func(ctx context.Context, k *keeper.Keeper) error {
				if _, err := k.LoadAccounts(); err != nil {
					return err
				}
				renderAccounts(os.Stdout, k.Store.Snapshot())
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			printConfig(os.Stdout, config.FromViper(v))
			return nil
		},
	}
}

// withKeeper builds the keeper, runs setup before the bus consumer starts, runs the
// consumer for the duration of fn and drains every pending event before returning.
func withKeeper(ctx context.Context, setup func(*keeper.Keeper) error, fn func(context.Context, *keeper.Keeper) error) error {
	st := config.FromViper(v)
	log := logging.New(logging.Config{Level: st.LogLevel, Format: st.LogFormat}, os.Stderr)
	k := keeper.New(st, log)
	if setup != nil {
		if err := setup(k); err != nil {
			return err
		}
	}

	busCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Bus.Run(busCtx, st.PollInterval)
		close(done)
	}()
	err := fn(ctx, k)
	cancel()
	<-done
	return err
}
