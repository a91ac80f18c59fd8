// Package email sends transactional mail through Resend.
//
// Services depend on the Sender interface; NewResendSender is wired in
// main.go only when RESEND_API_KEY is set, otherwise NopSender is used.
package email

import (
	"context"
	"fmt"
	"html"
	"strconv"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/i18n"
	"github.com/resend/resend-go/v3"
)

// RecordingSaved is the content of a "recording saved" notification.
type RecordingSaved struct {
	Title      string
	LessonDate string
	FileSize   int64
	GroupID    string
}

// Sender sends notifications to users.
type Sender interface {
	// SendRecordingSaved tells the uploader that a lesson recording is stored.
	// lang selects the translation ("en", "ko").
	SendRecordingSaved(ctx context.Context, toEmail, lang string, rec RecordingSaved) error
}

type resendSender struct {
	client    *resend.Client
	fromEmail string
	appURL    string
}

// NewResendSender creates a Sender backed by the Resend API. fromEmail must
// belong to a domain verified in Resend.
func NewResendSender(apiKey, fromEmail, appURL string) Sender {
	return &resendSender{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		appURL:    appURL,
	}
}

func (s *resendSender) SendRecordingSaved(ctx context.Context, toEmail, lang string, rec RecordingSaved) error {
	subject, body := RenderRecordingSaved(lang, s.appURL, rec)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("Korean Coach <%s>", s.fromEmail),
		To:      []string{toEmail},
		Subject: subject,
		Html:    body,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send recording email: %w", err)
	}
	return nil
}

// RenderRecordingSaved builds the localized subject and HTML body.
func RenderRecordingSaved(lang, appURL string, rec RecordingSaved) (subject, body string) {
	l := i18n.NewLocalizer(lang)
	subject = l.T("email.recordingSaved.subject")
	text := l.TWithParams("email.recordingSaved.body", map[string]string{
		"title": rec.Title,
		"date":  rec.LessonDate,
		"size":  strconv.FormatInt(rec.FileSize, 10),
	})
	link := fmt.Sprintf("%s/groups/%s/recordings", appURL, rec.GroupID)

	body = fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:24px;background:#f5f5f7;font-family:sans-serif;">
  <p style="font-size:15px;color:#222;">%s</p>
  <p><a href="%s" style="color:#4f46e5;">%s</a></p>
</body>
</html>`, html.EscapeString(text), link, html.EscapeString(link))

	return subject, body
}

// NopSender drops every notification. Used when email is not configured.
type NopSender struct{}

func (NopSender) SendRecordingSaved(context.Context, string, string, RecordingSaved) error {
	return nil
}
