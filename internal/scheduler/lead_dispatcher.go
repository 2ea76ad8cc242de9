package scheduler

import (
	"context"
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
)

// LeadDispatcher moves captured leads from the in-process bus onto the queue.
// Without a queue it delivers them inline.
type LeadDispatcher struct {
	queue  NotifyScheduler
	inline LeadNotifier
	log    *logger.Logger
}

func NewLeadDispatcher(queue NotifyScheduler, inline LeadNotifier, log *logger.Logger) *LeadDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &LeadDispatcher{queue: queue, inline: inline, log: log}
}

// Register subscribes the dispatcher to lead capture events.
func (d *LeadDispatcher) Register(bus events.Bus) {
	bus.Subscribe(events.LeadCaptured{}.EventName(), d)
}

func (d *LeadDispatcher) Handle(ctx context.Context, event events.Event) error {
	lead, ok := event.(events.LeadCaptured)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	if d.queue != nil {
		err := d.queue.ScheduleLeadNotify(ctx, LeadNotifyPayload{Lead: lead})
		if err == nil {
			return nil
		}
		d.log.Warn("failed to queue lead notification, delivering inline", "leadId", lead.LeadID, "error", err)
	}

	if d.inline == nil {
		return nil
	}
	return d.inline.NotifyLead(ctx, lead)
}
