package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

// TranscriptLine is one rendered chat message.
type TranscriptLine struct {
	Role    string
	Content string
	At      time.Time
}

// LeadCapturedMail carries what the lead email shows.
type LeadCapturedMail struct {
	Agent      string
	LeadName   string
	LeadEmail  string
	LeadPhone  string
	Summary    string
	CapturedAt time.Time
	Transcript []TranscriptLine
	Upgraded   bool
	LeadURL    string
}

type leadCapturedEmailData struct {
	baseEmailData
	LeadCapturedMail
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").Funcs(template.FuncMap{
		"stamp": formatStamp,
	}).ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// displayName picks the best label for a lead in subjects and headings.
func displayName(m LeadCapturedMail) string {
	switch {
	case m.LeadName != "":
		return m.LeadName
	case m.LeadEmail != "":
		return m.LeadEmail
	case m.LeadPhone != "":
		return m.LeadPhone
	default:
		return "anonymous visitor"
	}
}
