package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkaverti/fieldvault/internal/app"
	"github.com/mkaverti/fieldvault/internal/config"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/importer"
	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/queue"
)

var (
	locidFlag string
	subidFlag string
	queueFlag string
)

var rootCmd = &cobra.Command{
	Use:           "fieldvault",
	Short:         "Archival media vault with content-addressed imports and BagIt bags",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: worker pool, scheduled validation, admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx, cfg)
	},
}

var importCmd = &cobra.Command{
	Use:   "import [paths...]",
	Short: "Import files or directories into a location's bag",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if locidFlag == "" {
			return fmt.Errorf("--locid is required")
		}
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		paths := make([]string, 0, len(args))
		for _, a := range args {
			abs, err := filepath.Abs(a)
			if err != nil {
				return err
			}
			paths = append(paths, abs)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, err := reg.Orchestrator.Import(ctx, paths, importer.Options{
			LocID:    locidFlag,
			SubID:    subidFlag,
			Progress: printProgress,
		})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted import session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, err := reg.Orchestrator.Resume(ctx, args[0], importer.Options{Progress: printProgress})
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List resumable import sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		sessions, err := reg.Orchestrator.ResumableSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no resumable sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %-9s  stage=%-8s  locid=%s  files=%d  %s\n",
				s.ID, s.Status, s.Stage, s.LocID, len(s.Outcomes),
				s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [locid]",
	Short: "Verify bag manifests against files on disk",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) == 1 {
			report, err := reg.Validator.ValidateOne(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (%d files checked)\n", report.LocID, report.Status, report.Checked)
			for _, e := range report.Errors {
				fmt.Printf("  %-8s %s\n", e.Kind, e.Path)
			}
			return nil
		}

		summary, err := reg.Validator.ValidateAll(ctx, func(done, total int, locid string) {
			fmt.Printf("[%d/%d] %s\n", done, total, locid)
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d locations: %d valid, %d invalid, %d missing bags\n",
			summary.Locations, summary.Valid, summary.Invalid, summary.Missing)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage background jobs",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts per queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		for _, name := range queue.Queues() {
			counts, err := reg.Queue.Counts(name)
			if err != nil {
				return err
			}
			parts := make([]string, 0, len(counts))
			for _, status := range []string{model.JobPending, model.JobProcessing, model.JobCompleted, model.JobFailed, model.JobDead} {
				if n := counts[status]; n > 0 {
					parts = append(parts, fmt.Sprintf("%s=%d", status, n))
				}
			}
			if len(parts) == 0 {
				parts = append(parts, "empty")
			}
			fmt.Printf("%-10s %s\n", name, strings.Join(parts, " "))
		}
		return nil
	},
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List unacknowledged dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		entries, err := reg.Queue.DeadLetters(queueFlag)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("dead-letter queue is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  queue=%-10s attempts=%d  %s\n  %s\n", e.ID, e.Queue, e.Attempts, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Reason)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <dead-letter-id>",
	Short: "Re-enqueue a dead-lettered job with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		jobID, err := reg.Queue.RetryDeadLetter(args[0])
		if err != nil {
			return err
		}
		if jobID == "" {
			fmt.Println("an equivalent job is already queued")
			return nil
		}
		fmt.Printf("re-enqueued as job %s\n", jobID)
		return nil
	},
}

var queueAckCmd = &cobra.Command{
	Use:   "ack <dead-letter-id>...",
	Short: "Dismiss dead-letter entries without retrying",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.Queue.Acknowledge(args); err != nil {
			return err
		}
		fmt.Printf("acknowledged %d entries\n", len(args))
		return nil
	},
}

var queueGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete completed jobs past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		reg, err := app.NewRegistry(cfg)
		if err != nil {
			return err
		}
		defer reg.Close()

		n, err := reg.Queue.ClearCompleted(time.Duration(cfg.JobRetentionDays) * 24 * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d completed jobs\n", n)
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive [path]",
	Short: "Show or set the archive folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := app.NewRegistry(config.Load())
		if err != nil {
			return err
		}
		defer reg.Close()

		if len(args) == 0 {
			path, err := db.GetSetting(reg.DB, db.ArchiveFolderKey)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("archive folder is not configured")
				return nil
			}
			fmt.Println(path)
			return nil
		}

		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", abs)
		}
		if err := db.SetSetting(reg.DB, db.ArchiveFolderKey, abs); err != nil {
			return err
		}
		fmt.Printf("archive folder set to %s\n", abs)
		return nil
	},
}

func printProgress(ev importer.ProgressEvent) {
	fmt.Printf("[%s %d/%d] %s: %s\n", ev.Stage, ev.FileIndex+1, ev.TotalFiles, filepath.Base(ev.Path), ev.Status)
}

func printResult(result *importer.Result) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if result.Cancelled {
		fmt.Println("import was cancelled; resume with: fieldvault resume", result.SessionID)
	}
	return nil
}

func init() {
	importCmd.Flags().StringVar(&locidFlag, "locid", "", "Target location identifier")
	importCmd.Flags().StringVar(&subidFlag, "subid", "", "Optional sub-collection identifier")
	queueDLQCmd.Flags().StringVar(&queueFlag, "queue", "", "Filter by queue name")

	queueCmd.AddCommand(queueStatusCmd, queueDLQCmd, queueRetryCmd, queueAckCmd, queueGCCmd)
	rootCmd.AddCommand(serveCmd, importCmd, resumeCmd, sessionsCmd, validateCmd, queueCmd, archiveCmd)
}

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
