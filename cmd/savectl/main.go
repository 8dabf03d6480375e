package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"savekeeper/internal/app"
	"savekeeper/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SaveApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "saves add", "export").
func newApp(ctx context.Context, operation string) (*app.SaveApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSaveApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// confirm asks a yes/no question on the terminal. It fails when in is not a
// terminal.
func confirm(in *os.File, out io.Writer, question string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, fmt.Errorf("not a terminal: rerun with --yes to confirm")
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

var rootCmd = &cobra.Command{
	Use:          "savectl",
	Short:        "Inspect and maintain commander saves",
	SilenceUsage: true,
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

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Storage:  %s (%s)\n", cfg.Storage.Type, cfg.Storage.Filesystem.Root)
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

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Max Auto Saves: %d\n", cfg.MaxAutoSaves)
		fmt.Printf("Storage:        %s\n", cfg.Storage.Type)
		switch cfg.Storage.Type {
		case "badger", "sqlite":
			fmt.Printf("Data Dir:       %s\n", cfg.Storage.DataDir)
		default:
			fmt.Printf("Filesystem:     %s\n", cfg.Storage.Filesystem.Type)
			switch cfg.Storage.Filesystem.Type {
			case "os":
				fmt.Printf("Root:           %s\n", cfg.Storage.Filesystem.Root)
			case "s3":
				fmt.Printf("Bucket:         s3://%s/%s\n", cfg.Storage.Filesystem.S3Bucket, cfg.Storage.Filesystem.S3Prefix)
			}
		}
		if cfg.Catalog.Path != "" {
			fmt.Printf("Catalog:        %s (allow unknown: %t)\n", cfg.Catalog.Path, cfg.Catalog.AllowUnknown)
		} else {
			fmt.Printf("Catalog:        none\n")
		}
		return nil
	},
}

// cmdr command
var cmdrCmd = &cobra.Command{
	Use:   "cmdr",
	Short: "Manage commanders",
}

var cmdrListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commanders with saves",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "cmdr list")
		if err != nil {
			return err
		}
		defer a.Close()

		rows := a.ListCommanders()
		if len(rows) == 0 {
			fmt.Println("No commanders found.")
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%s  manual=%-3d auto=%-3d latest=%s\n", r.ID, r.Manual, r.Auto, formatMillis(r.Latest))
		}
		return nil
	},
}

var cmdrDeleteCmd = &cobra.Command{
	Use:   "delete CMDR",
	Short: "Delete a commander and all of its saves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm(os.Stdin, os.Stdout, fmt.Sprintf("Delete commander %s and all of its saves?", args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(cmd.Context(), "cmdr delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.DeleteCmdr(cmd.Context(), args[0]) {
			return fmt.Errorf("commander %s was not deleted", args[0])
		}
		fmt.Printf("Deleted commander %s\n", args[0])
		return nil
	},
}

// saves command
var savesCmd = &cobra.Command{
	Use:   "saves",
	Short: "Manage the saves of a commander",
}

var savesListCmd = &cobra.Command{
	Use:   "list CMDR",
	Short: "List saves, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "saves list")
		if err != nil {
			return err
		}
		defer a.Close()

		cs := a.ListSaves(args[0])
		if cs.Len() == 0 {
			fmt.Println("No saves found.")
			return nil
		}
		for _, s := range cs.Manual {
			fmt.Printf("manual  %s  %s  %s\n", s.UUID, formatMillis(s.Timestamp), s.PlayerLocation.Type)
		}
		for _, s := range cs.Auto {
			fmt.Printf("auto    %s  %s  %s\n", s.UUID, formatMillis(s.Timestamp), s.PlayerLocation.Type)
		}
		return nil
	},
}

var savesAddCmd = &cobra.Command{
	Use:   "add CMDR FILE",
	Short: "Add a save file for a commander",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		auto, _ := cmd.Flags().GetBool("auto")

		a, err := newApp(cmd.Context(), "saves add")
		if err != nil {
			return err
		}
		defer a.Close()

		s, added, err := a.AddSaveFromFile(cmd.Context(), args[0], args[1], auto)
		if err != nil {
			return err
		}
		if !added {
			fmt.Printf("Save %s already exists\n", s.UUID)
			return nil
		}
		fmt.Printf("Added save %s (%s)\n", s.UUID, formatMillis(s.Timestamp))
		return nil
	},
}

var savesDeleteCmd = &cobra.Command{
	Use:   "delete CMDR UUID",
	Short: "Delete one save",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "saves delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.DeleteSave(cmd.Context(), args[0], args[1]) {
			return fmt.Errorf("save %s of commander %s was not deleted", args[1], args[0])
		}
		fmt.Printf("Deleted save %s\n", args[1])
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export every save as JSON (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "export")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			_, err := a.Export(cmd.Context(), os.Stdout)
			return err
		}

		// A failed export leaves dest untouched.
		dest := args[0]
		tmp, err := os.CreateTemp(filepath.Dir(dest), ".savectl-export-*")
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		tmpName := tmp.Name()
		n, err := a.Export(cmd.Context(), tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmpName)
			return err
		}
		if err := os.Rename(tmpName, dest); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("writing export file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d saves to %s\n", n, dest)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import saves from an export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening import file: %w", err)
		}
		defer f.Close()

		a, err := newApp(cmd.Context(), "import")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Printf("Decoded %d saves, rejected %d\n", res.Decoded, res.Rejected)
		if !res.AllAdded {
			fmt.Println("Some saves were not added (already present or rejected).")
		}
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load every save and report the ones moved to quarantine",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "check")
		if err != nil {
			return err
		}
		defer a.Close()

		corrupted := a.Check()
		if len(corrupted) == 0 {
			fmt.Println("No corrupted saves.")
			return nil
		}
		for _, c := range corrupted {
			fmt.Printf("%-30s  %s\n  %v\n", c.Kind(), c.Path, c.Err)
		}
		return fmt.Errorf("%d corrupted saves quarantined", len(corrupted))
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Load every save and print the persistence counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "stats")
		if err != nil {
			return err
		}
		defer a.Close()

		samples, err := a.Stats()
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			fmt.Println("No activity recorded.")
			return nil
		}
		for _, s := range samples {
			fmt.Println(s)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// cmdr subcommands
	cmdrCmd.AddCommand(cmdrListCmd)
	cmdrCmd.AddCommand(cmdrDeleteCmd)
	cmdrDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	// saves subcommands
	savesCmd.AddCommand(savesListCmd)
	savesCmd.AddCommand(savesAddCmd)
	savesAddCmd.Flags().Bool("auto", false, "Store as an auto save (subject to retention)")
	savesCmd.AddCommand(savesDeleteCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cmdrCmd)
	rootCmd.AddCommand(savesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statsCmd)
}
