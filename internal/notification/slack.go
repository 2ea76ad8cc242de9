package notification

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"
)

// slackPoster is the part of the Slack API client the sink uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackSink posts a lead card to a tenant channel.
type SlackSink struct {
	client slackPoster
}

// NewSlackSink returns nil when no bot token is configured.
func NewSlackSink(token string) *SlackSink {
	if token == "" {
		return nil
	}
	return &SlackSink{client: slackapi.New(token)}
}

func (s *SlackSink) Send(ctx context.Context, channelID string, payload LeadPayload) error {
	fallback, blocks := slackMessage(payload)
	_, _, err := s.client.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(fallback, false),
		slackapi.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func slackMessage(p LeadPayload) (string, []slackapi.Block) {
	title := "New chat lead"
	if p.Upgraded {
		title = "Chat visitor identified"
	}

	var fields []*slackapi.TextBlockObject
	add := func(label, value string) {
		if value != "" {
			fields = append(fields, slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("*%s*\n%s", label, value), false, false))
		}
	}
	add("Name", p.LeadName)
	add("Email", p.LeadEmail)
	add("Phone", p.LeadPhone)
	add("Agent", p.Agent)

	blocks := []slackapi.Block{
		slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, title, false, false)),
	}
	if len(fields) > 0 {
		blocks = append(blocks, slackapi.NewSectionBlock(nil, fields, nil))
	}
	if p.Summary != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType, p.Summary, false, false), nil, nil))
	}

	fallback := strings.TrimSpace(fmt.Sprintf("%s: %s %s %s", title, p.LeadName, p.LeadEmail, p.LeadPhone))
	return fallback, blocks
}
