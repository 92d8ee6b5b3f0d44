package services

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/config"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/sirupsen/logrus"
)

// ReviewerDirectory lists who receives appeal notifications.
type ReviewerDirectory interface {
	ReviewerEmails(ctx context.Context) ([]string, error)
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails every active admin when an appeal is filed.
type EmailNotifier struct {
	reviewers ReviewerDirectory
	addr      string
	auth      smtp.Auth
	from      string
	siteURL   string
	send      SendMailFunc
}

func NewEmailNotifier(cfg *config.Config, reviewers ReviewerDirectory) *EmailNotifier {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &EmailNotifier{
		reviewers: reviewers,
		addr:      net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		auth:      auth,
		from:      cfg.SMTPFrom,
		siteURL:   cfg.SiteURL,
		send:      smtp.SendMail,
	}
}

// WithSender swaps the transport, mostly for tests.
func (n *EmailNotifier) WithSender(send SendMailFunc) *EmailNotifier {
	n.send = send
	return n
}

func (n *EmailNotifier) AppealSubmitted(ctx context.Context, appeal *models.AbuseAppeal) error {
	recipients, err := n.reviewers.ReviewerEmails(ctx)
	if err != nil {
		return &abuse.NotificationError{Sink: "email", Err: err}
	}
	if len(recipients) == 0 {
		logrus.WithField("appeal_id", appeal.ID.String()).Warn("No reviewers to notify about appeal")
		return nil
	}

	msg := BuildAppealEmail(n.from, recipients, n.siteURL, appeal)

	done := make(chan error, 1)
	go func() { done <- n.send(n.addr, n.auth, n.from, recipients, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return &abuse.NotificationError{Sink: "email", Err: err}
		}
	case <-ctx.Done():
		return &abuse.NotificationError{Sink: "email", Err: ctx.Err()}
	}

	logrus.WithFields(logrus.Fields{
		"appeal_id":  appeal.ID.String(),
		"recipients": len(recipients),
	}).Info("Appeal notification sent")
	return nil
}

// BuildAppealEmail renders the plain-text notification for appeal.
func BuildAppealEmail(from string, to []string, siteURL string, appeal *models.AbuseAppeal) []byte {
	s := appeal.Snapshot

	var body strings.Builder
	fmt.Fprintf(&body, "A permanently banned user has appealed.\r\n\r\n")
	fmt.Fprintf(&body, "User: %s\r\n", appeal.UserID)
	fmt.Fprintf(&body, "Submitted: %s\r\n", appeal.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&body, "Points: %d\r\n", s.Points)
	fmt.Fprintf(&body, "Permanently banned: %t\r\n", s.IsPermanentlyBanned)
	fmt.Fprintf(&body, "Sensitive requests this episode: %d\r\n", s.SensitiveCountInEpisode)
	fmt.Fprintf(&body, "Episode started: %s\r\n", orNone(s.EpisodeStartedAt))
	fmt.Fprintf(&body, "Last violation: %s\r\n", orNone(s.LastViolationAt))
	fmt.Fprintf(&body, "Cooldown until: %s\r\n", orNone(s.CooldownUntil))
	fmt.Fprintf(&body, "\r\nExplanation:\r\n%s\r\n", strings.ReplaceAll(appeal.Explanation, "\n", "\r\n"))
	fmt.Fprintf(&body, "\r\nReview: %s/api/admin/appeals/%s\r\n", siteURL, appeal.ID)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: New Abuse Appeal from %s\r\n", appeal.UserID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body.String())
	return []byte(msg.String())
}

func orNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
