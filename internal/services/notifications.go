package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/charlesng35/syncmeet/internal/calendar"
	"github.com/charlesng35/syncmeet/internal/models"
	"github.com/charlesng35/syncmeet/pkg/mail"
)

const notificationTimeLayout = "Mon, 02 Jan 2006 15:04 MST"

// Notifier renders and delivers meeting emails. A nil mailer or a disabled SMTP configuration
// turns every send into a silent no-op.
type Notifier struct {
	mailer    mail.Mailer
	clientURL string
}

// NewNotifier constructs a Notifier. clientURL is the web client base used for response links.
func NewNotifier(mailer mail.Mailer, clientURL string) *Notifier {
	return &Notifier{
		mailer:    mailer,
		clientURL: strings.TrimRight(strings.TrimSpace(clientURL), "/"),
	}
}

// SendInvitation emails one invitee with a response link and an iCalendar attachment.
func (n *Notifier) SendInvitation(ctx context.Context, meeting *models.Meeting, invitation *models.Invitation) error {
	if n == nil || n.mailer == nil || meeting == nil || invitation == nil {
		return nil
	}

	link := n.invitationLink(invitation.Token)
	when := formatInterval(meeting.StartTime, meeting.EndTime)

	body := fmt.Sprintf("You are invited to: %s\n\n%s\nWhen: %s\n\nPlease respond: %s\n",
		meeting.Title, meeting.Description, when, link)
	htmlBody := fmt.Sprintf(`<h2>You are invited to: %s</h2><p>%s</p><p><strong>When:</strong> %s</p><p>Please respond: <a href="%s">Respond to invitation</a></p>`,
		html.EscapeString(meeting.Title), html.EscapeString(meeting.Description), html.EscapeString(when), html.EscapeString(link))

	msg := mail.Message{
		To:       []string{invitation.Email},
		Subject:  "Invitation: " + meeting.Title,
		Body:     body,
		HTMLBody: htmlBody,
	}

	ics, err := calendar.ICS(meeting, calendar.ICSOptions{Method: "REQUEST"})
	if err != nil {
		return fmt.Errorf("notifier: render ics: %w", err)
	}
	msg.Attachments = []mail.Attachment{{
		Filename:    "invite.ics",
		ContentType: "text/calendar; charset=utf-8; method=REQUEST",
		Content:     ics,
	}}

	return n.send(ctx, msg)
}

// SendReminder emails a reminder that the meeting is about to start.
func (n *Notifier) SendReminder(ctx context.Context, meeting *models.Meeting, to string) error {
	if n == nil || n.mailer == nil || meeting == nil {
		return nil
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("notifier: recipient is required")
	}

	starts := meeting.StartTime.UTC().Format(notificationTimeLayout)
	body := fmt.Sprintf("Reminder: %s\n\n%s\nStarts at: %s\n", meeting.Title, meeting.Description, starts)
	htmlBody := fmt.Sprintf(`<h2>Reminder: %s</h2><p>%s</p><p><strong>Starts at:</strong> %s</p>`,
		html.EscapeString(meeting.Title), html.EscapeString(meeting.Description), html.EscapeString(starts))

	return n.send(ctx, mail.Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("Reminder: %s starting soon", meeting.Title),
		Body:     body,
		HTMLBody: htmlBody,
	})
}

func (n *Notifier) send(ctx context.Context, msg mail.Message) error {
	err := n.mailer.Send(ctx, msg)
	if err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return err
	}
	return nil
}

func (n *Notifier) invitationLink(token string) string {
	if n.clientURL == "" {
		return token
	}
	return fmt.Sprintf("%s/invite?token=%s", n.clientURL, url.QueryEscape(token))
}

func formatInterval(start, end time.Time) string {
	return start.UTC().Format(notificationTimeLayout) + " - " + end.UTC().Format(notificationTimeLayout)
}
