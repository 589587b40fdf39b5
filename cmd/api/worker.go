package main

import (
	"os/signal"
	"syscall"

	"consult-platform/internal/notify"

	"github.com/spf13/cobra"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process call status notifications and reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			w := notify.NewWorker(
				notify.RedisOpt(redisConfig(a.cfg)),
				notify.WorkerConfig{Queue: a.cfg.Notify.Queue, Concurrency: a.cfg.Notify.Concurrency},
				a.calls,
				notify.LogSink{Log: a.log.With("component", "notify")},
				a.log,
			)
			a.log.Info("notification worker starting", "queue", a.cfg.Notify.Queue)
			w.Run(ctx)
			return nil
		},
	}
}
