package scheduler

import (
	"encoding/json"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"

	"github.com/hibiken/asynq"
)

const TaskConversationClose = "conversation:close"

const TaskLeadNotify = "lead:notify"

// Close reasons carried by ConversationClosePayload.
const (
	CloseReasonUnload = "unload"
	CloseReasonIdle   = "idle"
	CloseReasonManual = "manual"
)

type ConversationClosePayload struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

type LeadNotifyPayload struct {
	Lead events.LeadCaptured `json:"lead"`
}

func NewConversationCloseTask(payload ConversationClosePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConversationClose, data), nil
}

func ParseConversationClosePayload(task *asynq.Task) (ConversationClosePayload, error) {
	var payload ConversationClosePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConversationClosePayload{}, err
	}
	return payload, nil
}

func NewLeadNotifyTask(payload LeadNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadNotify, data), nil
}

func ParseLeadNotifyPayload(task *asynq.Task) (LeadNotifyPayload, error) {
	var payload LeadNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadNotifyPayload{}, err
	}
	return payload, nil
}
