package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "host is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"test@example.com"},
		Subject: "Test",
		Body:    "Hello",
	})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerBuildsMultipartMessage(t *testing.T) {
	var captured *gomail.Message
	m := &smtpMailer{
		cfg: SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "noreply@example.com", Timeout: time.Second},
		send: func(_ SMTPSettings, msg *gomail.Message) error {
			captured = msg
			return nil
		},
	}

	err := m.Send(context.Background(), Message{
		To:       []string{"a@example.com", "A@example.com", " "},
		Subject:  "Invitation: Planning\r\nBcc: evil@example.com",
		Body:     "plain body",
		HTMLBody: "<p>html body</p>",
		Attachments: []Attachment{{
			Filename:    "invite.ics",
			ContentType: "text/calendar; method=REQUEST",
			Content:     []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"),
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.Equal(t, []string{"a@example.com"}, captured.GetHeader("To"))
	require.Equal(t, []string{"Invitation: Planning  Bcc: evil@example.com"}, captured.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = captured.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	require.Contains(t, raw, "text/html")
	require.Contains(t, raw, "invite.ics")
	require.True(t, strings.Contains(raw, "text/calendar"))
}

func TestSMTPMailerRejectsInvalidRecipients(t *testing.T) {
	m := &smtpMailer{
		cfg:  SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "noreply@example.com", Timeout: time.Second},
		send: func(SMTPSettings, *gomail.Message) error { return nil },
	}

	err := m.Send(context.Background(), Message{To: []string{"not-an-address"}, Subject: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid recipient")

	err = m.Send(context.Background(), Message{Subject: "x"})
	require.Error(t, err)
}

func TestSMTPMailerWrapsTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	m := &smtpMailer{
		cfg:  SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "noreply@example.com", Timeout: time.Second},
		send: func(SMTPSettings, *gomail.Message) error { return boom },
	}

	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "x", Body: "y"})
	require.ErrorIs(t, err, boom)
}

func TestSMTPMailerHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	m := &smtpMailer{
		cfg: SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "noreply@example.com", Timeout: 20 * time.Millisecond},
		send: func(SMTPSettings, *gomail.Message) error {
			<-release
			return nil
		},
	}

	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "x", Body: "y"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
		UseTLS:  true,
	})
	require.NoError(t, err)

	sm, ok := mailer.(*smtpMailer)
	require.True(t, ok)
	require.Positive(t, sm.cfg.Timeout)
}
