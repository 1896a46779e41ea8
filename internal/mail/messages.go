package mail

import (
	"context"
	"time"

	"github.com/khanghh/kgate/internal/render"
)

func SendLockoutNotice(sender MailSender, toEmail string, failedAttempts int, lockedUntil time.Time) error {
	body, err := render.RenderHTML("mail/lockout-notice", map[string]interface{}{
		"email":          toEmail,
		"failedAttempts": failedAttempts,
		"lockedUntil":    lockedUntil.UTC().Format("2006-01-02 15:04 MST"),
	})
	if err != nil {
		return err
	}
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: "Your account has been locked",
		Body:    body,
		IsHTML:  true,
	})
}

// LockoutNotifier mails the principal when a lock starts.
type LockoutNotifier struct {
	sender MailSender
}

func (n *LockoutNotifier) NotifyLocked(ctx context.Context, email string, failedAttempts int, lockedUntil time.Time) error {
	return SendLockoutNotice(n.sender, email, failedAttempts, lockedUntil)
}

func NewLockoutNotifier(sender MailSender) *LockoutNotifier {
	return &LockoutNotifier{sender: sender}
}
