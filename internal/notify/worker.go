package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"consult-platform/internal/calls"

	"github.com/hibiken/asynq"
)

// CallReader loads the current state of a call when a reminder fires.
type CallReader interface {
	Get(ctx context.Context, id string) (*calls.CallRequest, error)
}

type MessageKind string

const (
	KindStatusChanged MessageKind = "status_changed"
	KindReminder      MessageKind = "reminder"
)

// Message is what gets delivered to subscribers and providers.
type Message struct {
	Kind          MessageKind
	CallID        string
	RequestNumber string
	SubscriberID  string
	ProviderID    *string
	Status        calls.Status
	Text          string
}

// Sink delivers a message. Delivery errors make the task retry.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// LogSink writes messages to the structured log.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, m Message) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "call notification",
		"kind", m.Kind,
		"call_id", m.CallID,
		"request_number", m.RequestNumber,
		"subscriber_id", m.SubscriberID,
		"status", m.Status,
		"text", m.Text,
	)
	return nil
}

type WorkerConfig struct {
	Queue       string
	Concurrency int
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	calls  CallReader
	sink   Sink
	log    *slog.Logger
}

func NewWorker(opt asynq.RedisConnOpt, cfg WorkerConfig, reader CallReader, sink Sink, log *slog.Logger) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 10
	}
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Log: log}
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue: 1,
		},
		Logger: newAsynqLogger(log),
	})

	w := &Worker{server: server, calls: reader, sink: sink, log: log}
	w.mux = w.routes()
	return w
}

func (w *Worker) routes() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskCallStatusChanged, w.handleStatusChanged)
	mux.HandleFunc(TaskCallReminder, w.handleReminder)
	return mux
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("notification worker stopped", "error", err)
	}
}

func (w *Worker) handleStatusChanged(ctx context.Context, task *asynq.Task) error {
	change, err := ParseStatusChangedPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	text := fmt.Sprintf("Call %s is now %s", change.RequestNumber, change.To)
	if change.To == calls.StatusScheduled && change.ScheduledAt != nil {
		text = fmt.Sprintf("Call %s is scheduled for %s", change.RequestNumber, change.ScheduledAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return w.sink.Deliver(ctx, Message{
		Kind:          KindStatusChanged,
		CallID:        change.CallID,
		RequestNumber: change.RequestNumber,
		SubscriberID:  change.SubscriberID,
		ProviderID:    change.ProviderID,
		Status:        change.To,
		Text:          text,
	})
}

// handleReminder drops reminders for calls that were moved, cancelled or deleted
// after the reminder was queued.
func (w *Worker) handleReminder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseReminderPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	c, err := w.calls.Get(ctx, payload.CallID)
	if errors.Is(err, calls.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status != calls.StatusScheduled || c.ScheduledAt == nil || !c.ScheduledAt.Equal(payload.ScheduledAt) {
		w.log.DebugContext(ctx, "stale reminder skipped", "call_id", c.ID, "status", c.Status)
		return nil
	}

	return w.sink.Deliver(ctx, Message{
		Kind:          KindReminder,
		CallID:        c.ID,
		RequestNumber: c.RequestNumber,
		SubscriberID:  c.SubscriberID,
		ProviderID:    c.AssignedProviderID,
		Status:        c.Status,
		Text:          fmt.Sprintf("Reminder: call %s starts at %s", c.RequestNumber, c.ScheduledAt.UTC().Format("15:04 MST")),
	})
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) asynqLogger { return asynqLogger{l: l.With("component", "asynq")} }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
