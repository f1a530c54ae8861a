// Package email implements the Notifier port: it renders the CI report mail
// understood by patchwork-side tooling and delivers it over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Reporter)(nil)

// StatusStrings are the report labels per verdict class. Deployments can
// override them to match project conventions.
type StatusStrings struct {
	Success string
	Failure string
	Warning string
}

// DefaultStatusStrings are the stock report labels.
func DefaultStatusStrings() StatusStrings {
	return StatusStrings{Success: "SUCCESS", Failure: "FAILURE", Warning: "WARNING"}
}

// reportTemplate renders the full RFC 5322 message. The Test-Label and
// Test-Status body lines are consumed by patchwork check ingestion; keep them
// first in the body.
var reportTemplate = template.Must(template.New("report").Parse(
	`To: {{.To}}
From: {{.From}}
{{- if .Cc}}
Cc: {{.Cc}}
{{- end}}
Subject: |{{.Status}}| pw{{.SeriesID}} {{.SeriesName}}
Date: {{.Date}}
{{- if .MessageID}}
In-Reply-To: {{.MessageID}}
References: {{.MessageID}}
{{- end}}

Test-Label: {{.Provider}}-robot
Test-Status: {{.Status}}
{{.PatchURL}}

_{{.Provider}} build: {{.Verdict}}_
{{- range .Runs}}
{{.Label}}: {{.Result}}
Build URL: {{.URL}}
{{- end}}
`))

type templateData struct {
	To         string
	From       string
	Cc         string
	Status     string
	SeriesID   int64
	SeriesName string
	Date       string
	MessageID  string
	Provider   string
	Verdict    model.Verdict
	PatchURL   string
	Runs       []model.ReportRun
}

// sendFunc matches smtp.SendMail. Injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Reporter composes and delivers CI report mails.
type Reporter struct {
	smtpAddr string
	auth     smtp.Auth
	from     string
	to       string
	statuses StatusStrings
	send     sendFunc
	now      func() time.Time
}

// NewReporter creates a Reporter delivering through the given SMTP address
// ("host:port"). auth may be nil for unauthenticated relays.
func NewReporter(smtpAddr string, auth smtp.Auth, from, to string, statuses StatusStrings) *Reporter {
	return &Reporter{
		smtpAddr: smtpAddr,
		auth:     auth,
		from:     from,
		to:       to,
		statuses: statuses,
		send:     smtp.SendMail,
		now:      time.Now,
	}
}

// Notify renders the report and delivers it. The series submitter is Cc'd on
// anything other than a success so authors hear about their failures.
func (r *Reporter) Notify(ctx context.Context, report model.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, recipients, err := r.compose(report)
	if err != nil {
		return err
	}

	if err := r.send(r.smtpAddr, r.auth, r.from, recipients, msg); err != nil {
		return fmt.Errorf("send report for series %d (%s): %w", report.SeriesID, report.Provider, err)
	}

	return nil
}

// compose renders the message body and resolves the recipient list.
func (r *Reporter) compose(report model.Report) ([]byte, []string, error) {
	status := r.statusFor(report.Verdict)

	ccAuthor := report.Verdict != model.VerdictSuccess && report.Recipient != ""

	data := templateData{
		To:         r.to,
		From:       r.from,
		Status:     status,
		SeriesID:   report.SeriesID,
		SeriesName: report.SeriesName,
		Date:       r.now().Format(time.RFC1123Z),
		MessageID:  report.MessageID,
		Provider:   report.Provider,
		Verdict:    report.Verdict,
		PatchURL:   report.PatchURL,
		Runs:       report.Runs,
	}
	if ccAuthor {
		data.Cc = report.Recipient
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, nil, fmt.Errorf("render report: %w", err)
	}

	recipients := []string{r.to}
	if ccAuthor {
		recipients = append(recipients, report.Recipient)
	}

	// SMTP wants CRLF line endings.
	msg := []byte(strings.ReplaceAll(buf.String(), "\n", "\r\n"))

	return msg, recipients, nil
}

func (r *Reporter) statusFor(v model.Verdict) string {
	switch v {
	case model.VerdictSuccess:
		return r.statuses.Success
	case model.VerdictFailure, model.VerdictErrored:
		return r.statuses.Failure
	default:
		return r.statuses.Warning
	}
}
