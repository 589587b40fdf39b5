package notify

import (
	"encoding/json"
	"time"

	"consult-platform/internal/calls"

	"github.com/hibiken/asynq"
)

const TaskCallStatusChanged = "calls.status_changed"

const TaskCallReminder = "calls.reminder"

type ReminderPayload struct {
	CallID      string    `json:"callId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

func NewStatusChangedTask(change calls.StatusChange) (*asynq.Task, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallStatusChanged, data), nil
}

func ParseStatusChangedPayload(task *asynq.Task) (calls.StatusChange, error) {
	var change calls.StatusChange
	if err := json.Unmarshal(task.Payload(), &change); err != nil {
		return calls.StatusChange{}, err
	}
	return change, nil
}

func NewReminderTask(payload ReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallReminder, data), nil
}

func ParseReminderPayload(task *asynq.Task) (ReminderPayload, error) {
	var payload ReminderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReminderPayload{}, err
	}
	return payload, nil
}
