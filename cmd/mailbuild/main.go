package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mailbuild/internal/app"
	"mailbuild/internal/config"
	"mailbuild/internal/pipeline"
	"mailbuild/internal/secrets"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	configFlag  string
	verboseFlag bool
)

// configPath returns --config, falling back to MAILBUILD_CONFIG and then
// ./mailbuild.toml.
func configPath() (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	return app.ConfigPath()
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, app.Options{Verbose: verboseFlag})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runArgs collects --to, --template and --arg into the option namespace.
func runArgs(cmd *cobra.Command) map[string]string {
	args := make(map[string]string)
	extra, _ := cmd.Flags().GetStringToString("arg")
	for k, v := range extra {
		args[k] = v
	}
	for _, name := range []string{"to", "template"} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			args[name] = v
		}
	}
	return args
}

var rootCmd = &cobra.Command{
	Use:          "mailbuild",
	Short:        "Build, test and publish HTML email templates",
	SilenceUsage: true,
}

// run command
var runCmd = &cobra.Command{
	Use:   "run [TASK]",
	Short: "Run a task (default: default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		task := "default"
		if len(args) > 0 {
			task = args[0]
		}

		ctx, stop := interruptContext()
		defer stop()

		res, runErr := a.Run(ctx, task, runArgs(cmd))
		if err := app.WriteReport(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if runErr != nil {
			// The report already names the failing stage.
			cmd.SilenceErrors = true
			return runErr
		}
		return nil
	},
}

// tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks and check their stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := app.WriteTasks(cmd.OutOrStdout(), a.Tasks()); err != nil {
			return err
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("configuration problems:\n%w", err)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild when source files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := interruptContext()
		defer stop()

		out := cmd.OutOrStdout()
		err = a.Watch(ctx, runArgs(cmd), func(res *pipeline.RunResult) {
			app.WriteReport(out, res)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

// init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample mailbuild.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		if err := config.Init(path); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration initialized at %s\n", path)
		return nil
	},
}

// secrets command
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the secrets file",
}

var secretsEncryptCmd = &cobra.Command{
	Use:   "encrypt FILE",
	Short: "Encrypt a secrets file with age",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipients, _ := cmd.Flags().GetStringSlice("recipient")
		identity, _ := cmd.Flags().GetString("identity")
		out, _ := cmd.Flags().GetString("out")

		if identity != "" {
			r, err := secrets.RecipientOf(identity)
			if err != nil {
				return err
			}
			recipients = append(recipients, r)
		}

		var passphrase string
		if len(recipients) == 0 {
			p, err := secrets.EnvPassphrase(app.PassphraseEnv)()
			if err != nil {
				return err
			}
			passphrase = p
		}

		dst, err := secrets.EncryptFile(args[0], out, recipients, passphrase)
		if err != nil {
			return fmt.Errorf("encrypting secrets: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Encrypted %s to %s\n", args[0], dst)
		fmt.Fprintln(cmd.OutOrStdout(), "Point settings.secrets_file at the encrypted file and remove the plaintext.")
		return nil
	},
}

var secretsKeygenCmd = &cobra.Command{
	Use:   "keygen PATH",
	Short: "Generate an age identity for the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipient, err := secrets.GenerateIdentity(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Identity written to %s\n", args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "Public key: %s\n", recipient)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		return app.WriteHistory(cmd.OutOrStdout(), runs)
	},
}

// ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the upload ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list DESTINATION",
	Short: "List objects recorded for a destination, e.g. s3://bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		uploads, err := a.Uploads(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(uploads) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No uploads recorded.")
			return nil
		}
		for _, u := range uploads {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %8d  %s  %s\n",
				u.Checksum[:min(12, len(u.Checksum))],
				u.Size,
				u.UploadedAt.Format("2006-01-02 15:04:05"),
				u.Key,
			)
		}
		return nil
	},
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget DESTINATION",
	Short: "Forget a destination so the next upload sends every file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Forget(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %d object(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file (default $MAILBUILD_CONFIG or ./mailbuild.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log debug output")

	for _, cmd := range []*cobra.Command{runCmd, watchCmd} {
		cmd.Flags().String("to", "", "Recipient address for the send task")
		cmd.Flags().String("template", "", "Built template file for the send and litmus tasks")
		cmd.Flags().StringToString("arg", nil, "Extra option value, available as <%= option.KEY %> (repeatable)")
	}

	// secrets subcommands
	secretsCmd.AddCommand(secretsEncryptCmd)
	secretsEncryptCmd.Flags().StringSliceP("recipient", "r", nil, "age recipient (age1...); repeatable")
	secretsEncryptCmd.Flags().StringP("identity", "i", "", "Encrypt to the public key of this identity file")
	secretsEncryptCmd.Flags().StringP("out", "o", "", "Output file (default FILE.age)")
	secretsCmd.AddCommand(secretsKeygenCmd)

	// ledger subcommands
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerForgetCmd)

	// root commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(secretsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(ledgerCmd)
}
