package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cochaviz/bitbuild/internal/build"
	"github.com/cochaviz/bitbuild/internal/configurations"
	"github.com/cochaviz/bitbuild/internal/logging"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// app carries the logger shared by every command. It is rebuilt once the
// persistent flags are parsed.
type app struct {
	logger   *slog.Logger
	levelVar slog.LevelVar
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	a.levelVar.Set(slog.LevelInfo)
	a.logger = logging.NewCLI(a.stderr, &a.levelVar)
	slog.SetDefault(a.logger)

	root := newRootCommand(a)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		a.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	logLevel := defaultLogLevel
	logFormat := defaultLogFormat

	root := &cobra.Command{
		Use:           "bitbuild",
		Short:         "Build FPGA bitstreams on a build farm and register them as hardware images",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "Set log format (text, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		a.levelVar.Set(level)
		a.logger = logging.New(mode, a.stderr, &a.levelVar)
		slog.SetDefault(a.logger)
		return nil
	}

	root.AddCommand(
		newBuildCommand(a),
		newValidateCommand(a),
		newTagsCommand(a),
		newHWDBCommand(a),
	)
	return root
}

func newBuildCommand(a *app) *cobra.Command {
	var (
		bypass   bool
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "build <recipe.yaml>",
		Args:  cobra.ExactArgs(1),
		Short: "Build the bitstream described by a recipe and register it as an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			recipePath := strings.TrimSpace(args[0])
			cmdLogger := a.logger.With("command", "build", "recipe", recipePath)

			options := configurations.Options{Bypass: bypass}
			var bar *progressbar.ProgressBar
			if progress {
				bar = newPollSpinner(a.stderr)
				options.OnPoll = func(record build.ImageRecord, attempt int) {
					bar.Describe(fmt.Sprintf("%s %s (poll %d)", record.ImageID, record.State, attempt))
					_ = bar.Add(1)
				}
			}

			report, err := configurations.BuildWithOptions(cmd.Context(), recipePath, options, cmdLogger)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			cmdLogger.Info("build finished", "run_id", report.RunID, "outcome", report.Outcome, "stage", report.Stage)
			for _, artifact := range report.Artifacts {
				cmdLogger.Info("published artifact", "kind", artifact.Kind, "uri", artifact.URI)
			}
			if !report.Succeeded() {
				return fmt.Errorf("build %s at %s: %w", report.Outcome, report.FailedStage, report.Err)
			}
			if report.Image != nil {
				fmt.Fprintf(a.stdout, "%s\t%s\n", report.Image.ImageID, report.Image.GlobalImageID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&bypass, "bypass", false, "Skip every stage and only release the build host")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a spinner while waiting for the image")

	return cmd
}

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <recipe.yaml>",
		Args:  cobra.ExactArgs(1),
		Short: "Check a recipe without building anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			recipePath := strings.TrimSpace(args[0])
			err := configurations.Validate(recipePath)

			var validationErr *configurations.ValidationError
			if errors.As(err, &validationErr) {
				for i, problem := range validationErr.Problems {
					fmt.Fprintf(a.stdout, "%d. %s\n", i+1, problem)
				}
				return fmt.Errorf("recipe %s is invalid", recipePath)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s is valid\n", recipePath)
			return nil
		},
	}
}

func newTagsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Encode or decode image description tags",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "encode <build-triplet> <deploy-triplet> <commit>",
			Args:  cobra.ExactArgs(3),
			Short: "Print the image description for the given tags",
			RunE: func(cmd *cobra.Command, args []string) error {
				tags := build.Tags{BuildTriplet: args[0], DeployTriplet: args[1], Commit: args[2]}
				if err := tags.Validate(); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, build.Description(tags))
				return nil
			},
		},
		&cobra.Command{
			Use:   "decode <description>",
			Args:  cobra.ExactArgs(1),
			Short: "Print the tags stored in an image description",
			RunE: func(cmd *cobra.Command, args []string) error {
				tags, err := build.ParseDescription(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "build triplet:\t%s\ndeploy triplet:\t%s\ncommit:\t%s\n", tags.BuildTriplet, tags.DeployTriplet, tags.Commit)
				return nil
			},
		},
	)
	return cmd
}

func newHWDBCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hwdb",
		Short: "Inspect hardware database entries of built images",
	}

	var deployDir string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print every stored hwdb entry, ready to paste into the hardware database",
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := build.Layout{DeployDir: deployDir}
			names, entries, err := build.ReadHWDBEntries(layout.HWDBDir())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				a.logger.Warn("no hwdb entries found", "dir", layout.HWDBDir())
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(a.stdout, entries[name])
			}
			return nil
		},
	}
	list.Flags().StringVar(&deployDir, "deploy-dir", ".", "Deploy directory holding built-hwdb-entries")

	cmd.AddCommand(list)
	return cmd
}

func newPollSpinner(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("waiting for image"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}
