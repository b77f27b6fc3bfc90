package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"arc-go/internal/app"
	"arc-go/internal/arc"
	"arc-go/internal/config"
	"arc-go/internal/encryption"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, arc.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// readConfig reads the config file named by the defaults.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an ArcApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "archive", "verify").
func newApp(cmd *cobra.Command, operation, parameters string) (*app.ArcApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	set, _ := cmd.Flags().GetString("set")
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := app.NewArcApp(cmd.Context(), cfg, app.Options{
		Operation:  operation,
		Parameters: parameters,
		Set:        set,
		Verbose:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// confirm asks a yes/no question on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

var rootCmd = &cobra.Command{
	Use:           "arc",
	Short:         "Archive files to removable and remote media",
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()

		cfg := config.NewConfig(hostID, defaults["base_dir"])
		cfg.Export.Dir = defaults["export_dir"]

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Add source directories under [archive] sources before the first run.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:  %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Index:    %s (%s)\n", cfg.Index.Dir, cfg.Index.Type)
		fmt.Printf("Digest:   %s\n", cfg.Archive.Digest)
		for _, src := range cfg.Archive.Sources {
			fmt.Printf("Source:   %s\n", src)
		}
		for _, m := range cfg.Media {
			fmt.Printf("Media:    %-10s %-9s capacity %s, reserved %s\n", m.Name, m.Type,
				humanize.Bytes(uint64(m.Capacity)), humanize.Bytes(uint64(m.Reserved)))
		}
		if cfg.Export.Dir != "" {
			fmt.Printf("Exports:  %s\n", cfg.Export.Dir)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the key pair for index snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		again, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != again {
			return fmt.Errorf("passphrases do not match")
		}

		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (encrypted)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan sources and show what an archive run would write",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "scan", "")
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := planWithProgress(cmd.Context(), a)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

func planWithProgress(ctx context.Context, a *app.ArcApp) (*arc.Plan, error) {
	progress, stop := app.NewPrinter(os.Stdout).Start()
	plan, err := a.Plan(ctx, progress)
	stop()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return plan, nil
}

func printPlan(plan *arc.Plan) {
	s := plan.Catalog.Stats
	fmt.Printf("%d new, %d existing, %d excluded, %d deleted, %d renamed\n",
		s.New, s.Existing, s.Excluded, s.Deleted, s.Renamed)
	if plan.PendingFiles == 0 {
		fmt.Println("Nothing to archive.")
		return
	}
	fmt.Printf("%d file(s), %s to write on %d volume(s), %d new\n",
		plan.PendingFiles, humanize.Bytes(uint64(plan.PendingBytes)), len(plan.Volumes), plan.NewVolumes)
	for _, v := range plan.Volumes {
		fmt.Printf("  %s  %4d files  %s of %s\n", v.Label(), len(v.PendingFiles()),
			humanize.Bytes(uint64(v.Committed)), humanize.Bytes(uint64(v.Capacity)))
	}
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive new files to the media set",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp(cmd, "archive", "")
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := planWithProgress(cmd.Context(), a)
		if err != nil {
			return err
		}
		printPlan(plan)
		if plan.PendingFiles == 0 {
			return nil
		}
		if !yes && !confirm("Write these volumes?") {
			fmt.Println("Aborted.")
			return nil
		}

		progress, stop := app.NewPrinter(os.Stdout).Start()
		err = a.Archive(cmd.Context(), plan, progress)
		stop()
		if errors.Is(err, arc.ErrCancelled) {
			fmt.Println("Cancelled. Run archive again to resume.")
			return err
		}
		if err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}
		fmt.Printf("Archived %d file(s)\n", plan.PendingFiles)
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify finalized volumes against their recorded digest",
	RunE: func(cmd *cobra.Command, args []string) error {
		numbers, _ := cmd.Flags().GetIntSlice("volume")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd, "verify", fmt.Sprintf("volumes=%s force=%t", app.FormatVolumes(numbers), force))
		if err != nil {
			return err
		}
		defer a.Close()

		progress, stop := app.NewPrinter(os.Stdout).Start()
		outcomes, err := a.Verify(cmd.Context(), numbers, force, progress)
		stop()
		if err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}

		if len(outcomes) == 0 {
			fmt.Println("No finalized volumes.")
			return nil
		}
		failed := 0
		for _, o := range outcomes {
			status := "OK"
			if !o.Result.Valid {
				status = "FAILED"
				failed++
			}
			if o.Skipped {
				status += " (verified " + formatTime(o.Result.At) + ")"
			}
			fmt.Printf("%s  %s\n", o.Volume.Label(), status)
		}
		if failed > 0 {
			return fmt.Errorf("%d volume(s) failed verification", failed)
		}
		return nil
	},
}

// summary command
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the volumes of the media set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "summary", "")
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.Summary()
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Printf("No volumes in media set %s.\n", a.MediaSet())
			return nil
		}

		for _, r := range rows {
			state := "open"
			if r.Finalized {
				state = "finalized " + formatTime(r.FinalizedAt)
			}
			verified := "never verified"
			if r.Verified {
				verified = "valid"
				if !r.LastValid {
					verified = "INVALID"
				}
				verified += " " + formatTime(r.LastVerifiedAt)
			}
			due := ""
			if r.VerifyDue {
				due = "  [verify due]"
			}
			fmt.Printf("%s  %-8s %5d files  %9s / %-9s  %s  %s%s\n",
				r.Label, r.Kind, r.Files,
				humanize.Bytes(uint64(r.Committed)), humanize.Bytes(uint64(r.Capacity)),
				state, verified, due)
		}
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search TERM",
	Short: "Find archived files by path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "search", "")
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.Search(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No matching files.")
			return nil
		}

		for _, f := range files {
			vol := "-"
			if v := f.Volume(); v != nil {
				vol = v.Label()
			}
			state := "pending"
			if f.Copied {
				state = formatTime(f.ArchivedAt)
			}
			fmt.Printf("%s  %9s  %s  %s\n", vol, humanize.Bytes(uint64(max(f.Size, 0))), state, f.RelativePath)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "history", "")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if !op.FinishedAt.IsZero() {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-12s  %s  %-10s  %-10s  %s\n",
				op.ID,
				op.Operation,
				formatTime(op.StartedAt),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Export and import encrypted index snapshots",
}

var indexExportCmd = &cobra.Command{
	Use:   "export PATH",
	Short: "Write an encrypted snapshot of the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "index export", "")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ExportIndex(args[0]); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Index written to %s\n", args[0])
		return nil
	},
}

var indexImportCmd = &cobra.Command{
	Use:   "import PATH",
	Short: "Restore volumes from an encrypted index snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "index import", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		n, err := a.ImportIndex(args[0], pass)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported %d volume(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("set", "", "Media set to use (default: the first configured)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// index subcommands
	indexCmd.AddCommand(indexExportCmd)
	indexCmd.AddCommand(indexImportCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().IntSlice("volume", nil, "Volume number to verify (repeatable; default: all finalized)")
	verifyCmd.Flags().Bool("force", false, "Verify even when verified within the freshness window")
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(indexCmd)
}
