package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"consult-platform/internal/calls"
	"consult-platform/pkg/utils"

	"github.com/hibiken/asynq"
)

type Config struct {
	Queue    string
	MaxRetry int
	// ReminderLead is how long before a scheduled call the reminder fires.
	ReminderLead time.Duration
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.ReminderLead <= 0 {
		c.ReminderLead = 15 * time.Minute
	}
	return c
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client publishes committed status changes to the task queue. It implements
// calls.Notifier.
type Client struct {
	client enqueuer
	cfg    Config
	clock  func() time.Time
}

var _ calls.Notifier = (*Client)(nil)

func NewClient(opt asynq.RedisConnOpt, cfg Config) *Client {
	return &Client{client: asynq.NewClient(opt), cfg: cfg.withDefaults(), clock: time.Now}
}

// RedisOpt maps the shared redis settings onto asynq's connection options.
func RedisOpt(cfg utils.RedisConfig) asynq.RedisClientOpt {
	o := cfg.Options()
	return asynq.RedisClientOpt{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// CallStatusChanged enqueues the change, deduplicated by event id. A change
// to SCHEDULED also queues a reminder ahead of the call.
func (c *Client) CallStatusChanged(ctx context.Context, change calls.StatusChange) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewStatusChangedTask(change)
	if err != nil {
		return err
	}
	if err := c.enqueue(ctx, task, asynq.TaskID(change.EventID)); err != nil {
		return fmt.Errorf("enqueue status change %s: %w", change.EventID, err)
	}

	if change.To != calls.StatusScheduled || change.ScheduledAt == nil {
		return nil
	}
	runAt := change.ScheduledAt.Add(-c.cfg.ReminderLead)
	if !runAt.After(c.clock()) {
		return nil
	}
	reminder, err := NewReminderTask(ReminderPayload{CallID: change.CallID, ScheduledAt: *change.ScheduledAt})
	if err != nil {
		return err
	}
	if err := c.enqueue(ctx, reminder, asynq.ProcessAt(runAt), asynq.TaskID(change.EventID+":reminder")); err != nil {
		return fmt.Errorf("enqueue reminder for %s: %w", change.CallID, err)
	}
	return nil
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	opts = append(opts, asynq.Queue(c.cfg.Queue), asynq.MaxRetry(c.cfg.MaxRetry))
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
