package email

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers lead emails.
type Sender interface {
	SendLeadCaptured(ctx context.Context, toEmail string, mail LeadCapturedMail) error
}

// SMTPSender delivers through an SMTP relay via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

// NewSMTPSenderFromConfig returns nil when SMTP is not configured.
func NewSMTPSenderFromConfig(cfg config.SMTPConfig) *SMTPSender {
	if !cfg.IsSMTPEnabled() {
		return nil
	}
	return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(), cfg.GetEmailFromName())
}

func (s *SMTPSender) SendLeadCaptured(ctx context.Context, toEmail string, mail LeadCapturedMail) error {
	subject, content, err := RenderLeadCaptured(mail)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subject, content)
}

// RenderLeadCaptured builds the subject and HTML body of a lead email.
func RenderLeadCaptured(mail LeadCapturedMail) (string, string, error) {
	subjectFmt, heading := subjectLeadCapturedFmt, "New lead from chat"
	if mail.Upgraded {
		subjectFmt, heading = subjectLeadUpgradedFmt, "A chat visitor shared their details"
	}

	content, err := renderEmailTemplate("lead_captured.html", leadCapturedEmailData{
		baseEmailData: baseEmailData{
			Title:      heading,
			Heading:    heading,
			Subheading: "Captured by " + mail.Agent,
			CTALabel:   "Open lead",
			CTAURL:     mail.LeadURL,
		},
		LeadCapturedMail: mail,
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf(subjectFmt, displayName(mail)), content, nil
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}
