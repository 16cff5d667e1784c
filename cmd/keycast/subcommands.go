package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/vcaesar/imgo"

	"github.com/keycast/keycast/pkg/config"
	"github.com/keycast/keycast/pkg/journal"
	"github.com/keycast/keycast/pkg/logging"
	"github.com/keycast/keycast/pkg/monitor"
	"github.com/keycast/keycast/pkg/vision"
	"github.com/keycast/keycast/pkg/winctl"
)

// loadSubcommandConfig loads configuration for the diagnostic subcommands:
// file, environment and defaults, with no flag overlay.
func loadSubcommandConfig(configPath string) (*config.Config, []config.ValidationError, error) {
	if configPath == "" {
		cwd, _ := os.Getwd()
		if found := config.FindConfigFile(cwd); found != "" {
			configPath = found
		} else if homeDir, err := os.UserHomeDir(); err == nil {
			configPath = config.FindConfigFile(homeDir)
		}
	}
	return config.LoadWithPrecedence(configPath, nil, nil)
}

// createWindowsCommand creates the windows subcommand. enum nil selects the
// platform enumerator.
func createWindowsCommand(enum winctl.Enumerator) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List visible top-level windows",
		Long: `Lists the titles and handles of every window the locator can see, for
picking a window_title value. The same enumeration backs the lookup the
engine performs at the start of each run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			windows, err := winctl.NewCache(enum).List()
			if err != nil {
				return fmt.Errorf("enumerate windows: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(windows) == 0 {
				fmt.Fprintln(out, "No windows found.")
				return nil
			}
			for _, w := range windows {
				fmt.Fprintf(out, "0x%08X  %s\n", uint64(w.Handle), w.Title)
			}
			return nil
		},
	}
}

// createCalibrateCommand creates the calibrate subcommand. grabber nil
// selects the live screen.
func createCalibrateCommand(grabber monitor.Grabber) *cobra.Command {
	var configPath string
	var saveDir string

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Capture the screen once and score every configured region",
		Long: `Captures the primary display once, cuts out every configured region, and
reports each region's mean saturation against the activity threshold. A
region with an icon template also gets its normalized cross-correlation
score against the match threshold.

Use --save to write the extracted region images as PNG files, for icon
authoring and coordinate tuning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pruned, err := loadSubcommandConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger("calibrate", logging.Level(cfg.LogLevel))
			logPruned(logger, pruned)

			g := grabber
			if g == nil {
				g = monitor.ScreenGrabber{}
			}
			return runCalibrate(cmd.OutOrStdout(), cfg, g, saveDir, logger)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file path")
	cmd.Flags().StringVar(&saveDir, "save", "", "Directory to write extracted region PNGs")

	return cmd
}

func runCalibrate(out io.Writer, cfg *config.Config, grabber monitor.Grabber, saveDir string, logger *logging.Logger) error {
	if len(cfg.Regions) == 0 {
		fmt.Fprintln(out, "No regions configured.")
		return nil
	}

	img, err := grabber.Capture()
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	bounds := img.Bounds()
	fmt.Fprintf(out, "Capture: %dx%d", bounds.Dx(), bounds.Dy())
	if cfg.Monitor.ReferenceWidth > 0 && cfg.Monitor.ReferenceHeight > 0 {
		fmt.Fprintf(out, " (reference %dx%d)", cfg.Monitor.ReferenceWidth, cfg.Monitor.ReferenceHeight)
	}
	fmt.Fprintln(out)

	if saveDir != "" {
		if err := os.MkdirAll(saveDir, 0755); err != nil {
			return fmt.Errorf("create save dir: %w", err)
		}
	}

	frames := monitor.ExtractRegions(img, cfg.Regions,
		cfg.Monitor.ReferenceWidth, cfg.Monitor.ReferenceHeight, logger)

	for _, frame := range frames {
		meanSat := vision.MeanSaturation(frame.Image)
		state := "inactive"
		if meanSat > float64(cfg.Monitor.SaturationThreshold) {
			state = "active"
		}
		fmt.Fprintf(out, "region %d %-16s saturation %6.1f  %-8s", frame.Index, frame.Name, meanSat, state)

		if icon := iconFor(cfg, frame.Index); icon != "" {
			if tpl, err := vision.LoadTemplate(icon); err != nil {
				fmt.Fprintf(out, "  template: %v", err)
			} else {
				score, matched := vision.Match(frame.Image, tpl, cfg.Monitor.MatchThreshold)
				verdict := "no match"
				if matched {
					verdict = "match"
				}
				fmt.Fprintf(out, "  template %.3f (%s)", score, verdict)
			}
		}
		fmt.Fprintln(out)

		if saveDir != "" {
			path := filepath.Join(saveDir, fmt.Sprintf("region_%d_%s.png", frame.Index, frame.Name))
			if err := imgo.Save(path, frame.Image); err != nil {
				return fmt.Errorf("save %s: %w", path, err)
			}
			fmt.Fprintf(out, "    saved %s\n", path)
		}
	}

	if skipped := len(cfg.Regions) - len(frames); skipped > 0 {
		fmt.Fprintf(out, "%d region(s) skipped (outside the capture).\n", skipped)
	}
	return nil
}

// iconFor returns the template path configured for a region index
func iconFor(cfg *config.Config, index int) string {
	for _, r := range cfg.Regions {
		if r.Index == index {
			return r.Icon
		}
	}
	return ""
}

// createJournalCommand creates the journal subcommand
func createJournalCommand() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent journaled runs",
		Long: `Prints the most recent runs from the SQLite run journal with per-key send
and failure counts. Requires journal.path (or --journal on the run command)
to have been set while the runs happened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadSubcommandConfig(configPath)
			if err != nil {
				return err
			}
			return runJournal(cmd.OutOrStdout(), cfg, limit)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file path")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")

	return cmd
}

func runJournal(out io.Writer, cfg *config.Config, limit int) error {
	if cfg.Journal.Path == "" {
		fmt.Fprintln(out, "Journal disabled (journal.path is empty).")
		return nil
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.Runs(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs journaled yet.")
		return nil
	}

	for _, run := range runs {
		fmt.Fprintf(out, "#%d  %-7s  %q  started %s",
			run.ID, run.Mode, run.WindowTitle, run.StartedAt.Format("2006-01-02 15:04:05"))
		if run.Finished() {
			fmt.Fprintf(out, "  ran %s  (%s)\n",
				run.FinishedAt.Sub(run.StartedAt).Round(time.Second), run.Reason)
		} else {
			fmt.Fprintln(out, "  (still open)")
		}

		sends, err := j.Sends(run.ID)
		if err != nil {
			return err
		}
		for _, sc := range sends {
			fmt.Fprintf(out, "    %-8s %-8s sent %d, failed %d\n", sc.Key, sc.Source, sc.Sent, sc.Failed)
		}
	}
	return nil
}
