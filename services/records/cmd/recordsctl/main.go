// Command recordsctl inspects and drives processing runs from a shell, using
// the same config file as the records service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vetrecords/internal/bootstrap"
	"vetrecords/internal/util"
	"vetrecords/pkg/queue"
	"vetrecords/services/records/internal/app"
	"vetrecords/services/records/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type session struct {
	app    *app.App
	queue  queue.Queue
	broker string
	close  func() error
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	var sess *session

	root := &cobra.Command{
		Use:           "recordsctl",
		Short:         "Inspect and process veterinary record runs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			s, err := openSession(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			sess = s
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if sess == nil {
				return nil
			}
			return sess.close()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.ConfigPath(), "path to config.yaml")

	root.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "List the latest run for each filename",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := sess.app.LatestRuns(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no documents")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tFILENAME\tTYPE\tSTATUS\tUPDATED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.Filename, run.DocumentType, run.Status, run.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Print the status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := sess.app.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"file_id": args[0], "status": status})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "process <id>",
		Short: "Request processing of an uploaded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticket, err := sess.app.RequestProcessing(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ticket)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "metrics <id>",
		Short: "Print the recorded metrics of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := sess.app.Metrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "task <id>",
		Short: "Print the broker status of a queued task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector, ok := sess.queue.(queue.TaskInspector)
			if !ok {
				return fmt.Errorf("broker %q does not track task status", sess.broker)
			}
			status, found, err := inspector.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("task not found: %s", args[0])
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	})

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write all metrics to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := sess.app.ExportMetricsXLSX(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(exportPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", exportPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", exportPath, len(data))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "processing-metrics.xlsx", "output file")
	root.AddCommand(exportCmd)

	return root
}

func openSession(ctx context.Context, cfgPath string) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := util.NewLoggerWithWriters(util.ParseLevel(cfg.LogLevel), os.Stderr)
	slog.SetDefault(logger)

	host, _ := os.Hostname()
	comps, err := bootstrap.Open(ctx, cfg.Sections, "recordsctl-"+host)
	if err != nil {
		return nil, err
	}
	orch, err := comps.Orchestrator(cfg.Sections, bootstrap.PipelineOptions{Logger: logger})
	if err != nil {
		_ = comps.Close()
		return nil, err
	}
	core, err := app.New(app.Config{
		Store:             comps.Store,
		Files:             comps.Files,
		Processor:         orch,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
		Logger:            logger,
	})
	if err != nil {
		_ = comps.Close()
		return nil, err
	}
	broker := cfg.Queue.Broker
	if broker == "" {
		broker = "redis"
	}
	return &session{app: core, queue: comps.Queue, broker: broker, close: comps.Close}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
