// Command scribepipe runs the transcription pipeline daemon and its
// operator tooling.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"scribepipe/internal/api"
	"scribepipe/internal/artifacts"
	"scribepipe/internal/breaker"
	"scribepipe/internal/config"
	"scribepipe/internal/enrich"
	"scribepipe/internal/errtrack"
	"scribepipe/internal/job"
	"scribepipe/internal/pipeline"
	"scribepipe/internal/progress"
	"scribepipe/internal/provider"
	"scribepipe/internal/quota"
	"scribepipe/internal/selector"
	"scribepipe/internal/storage"
	"scribepipe/internal/worker"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "scribepipe",
		Short:         "Job pipeline turning audio and documents into transcripts, summaries and reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file location")

	root.AddCommand(serveCmd(), queueCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker daemon and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			store, err := job.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			guard := quota.NewGuard(store.Handle())
			blobs := storage.NewClient(cfg.Paths.ArtifactDir)
			notifier := errtrack.NewNtfyNotifier(cfg.Notifications.NtfyTopic,
				time.Duration(cfg.Notifications.RequestTimeout)*time.Second)
			tracker := errtrack.NewTracker(notifier)

			breakers := breaker.NewRegistry(breaker.Settings{
				Timeout:           time.Duration(cfg.Breaker.CallTimeoutSeconds) * time.Second,
				ErrorThresholdPct: cfg.Breaker.ErrorThresholdPct,
				MinRequests:       cfg.Breaker.MinRequests,
				WindowSize:        cfg.Breaker.WindowSize,
				ResetTimeout:      time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
			})

			timeout := time.Duration(cfg.Providers.RequestTimeout) * time.Second
			pollInterval := time.Duration(cfg.Providers.PollIntervalSeconds) * time.Second
			executor := provider.NewExecutor(breakers,
				provider.NewWhisper(provider.WhisperOptions{
					BaseURL:      cfg.Providers.WhisperURL,
					APIKey:       cfg.Providers.WhisperAPIKey,
					Timeout:      timeout,
					PollInterval: pollInterval,
					PollAttempts: cfg.Providers.PollAttempts,
				}),
				provider.NewAssemblyAI(provider.AssemblyAIOptions{
					BaseURL:      cfg.Providers.AssemblyAIURL,
					APIKey:       cfg.Providers.AssemblyAIAPIKey,
					Timeout:      timeout,
					PollInterval: pollInterval,
					PollAttempts: cfg.Providers.PollAttempts,
				}),
				provider.NewSpeechmatics(provider.SpeechmaticsOptions{
					BaseURL:      cfg.Providers.SpeechmaticsURL,
					APIKey:       cfg.Providers.SpeechmaticsAPIKey,
					Timeout:      timeout,
					PollInterval: pollInterval,
					PollAttempts: cfg.Providers.PollAttempts,
				}),
			)

			llm := enrich.NewLLMClient(enrich.LLMOptions{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.Model,
				Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			})
			enricher := enrich.NewOrchestrator(llm, tracker)

			tts := artifacts.NewTTSClient(artifacts.TTSOptions{
				URL:           cfg.TTS.URL,
				APIKey:        cfg.TTS.APIKey,
				Voice:         cfg.TTS.Voice,
				MaxInputChars: cfg.TTS.MaxInputChars,
			})
			generator := artifacts.NewGenerator(blobs, tts, breakers, tracker)

			pipe := pipeline.New(store, guard, blobs, executor, enricher, generator, tracker,
				selector.Rules{AssemblyAIMinBytes: cfg.Providers.AssemblyAIMinBytes})

			watchdog := progress.NewWatchdog(store, tracker, progress.WatchdogOptions{
				Interval: time.Duration(cfg.Watchdog.ScanIntervalSeconds) * time.Second,
				Warn:     time.Duration(cfg.Watchdog.WarningAfterSeconds) * time.Second,
				Critical: time.Duration(cfg.Watchdog.CriticalAfterSeconds) * time.Second,
			})

			w := worker.New(store, pipe, watchdog, worker.Options{
				LockPath:     cfg.Paths.LockFile,
				PollInterval: time.Duration(cfg.Watchdog.QueuePollIntervalMillis) * time.Millisecond,
			})

			server := api.NewServer(store,
				progress.Estimator{SpeedFactor: cfg.Watchdog.ProcessingSpeedFactor},
				cfg.Paths.APIBind)

			errCh := make(chan error, 2)
			go func() { errCh <- w.Run(ctx) }()
			go func() { errCh <- server.Run(ctx) }()

			// First fatal error from either side wins; cancellation drains both.
			if err := <-errCh; err != nil {
				stop()
				<-errCh
				return err
			}
			return <-errCh
		},
	}
}

func queueCmd() *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}
	queue.AddCommand(queueListCmd(), queueRetryCmd())
	return queue
}

func queueListCmd() *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []job.Status
			if statusFilter != "" {
				s, ok := job.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				statuses = append(statuses, s)
			}
			jobs, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "USER", "KIND", "STATUS", "RETRIES", "CREATED", "ERROR"})
			for _, j := range jobs {
				t.AppendRow(table.Row{
					shortID(j.ID),
					j.UserID,
					string(j.ContentKind),
					string(j.Status),
					fmt.Sprintf("%d/%d", j.RetryCount, j.MaxRetries),
					j.CreatedAt.Local().Format("2006-01-02 15:04"),
					truncate(j.ErrorMessage, 48),
				})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "only show jobs in this status")
	return cmd
}

func queueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-enqueue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			moved, err := store.Transition(cmd.Context(), args[0], job.StatusFailed, job.StatusPending)
			if err != nil {
				return err
			}
			if !moved {
				return fmt.Errorf("job %s is not in failed status", args[0])
			}
			fmt.Printf("job %s re-enqueued\n", args[0])
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return err
			}
			data, err := toml.Marshal(config.Default())
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", configPath)
			return nil
		},
	})
	return cfgCmd
}

func openStore() (*job.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return job.Open(cfg.DatabasePath())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
