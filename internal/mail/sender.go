package mail

import "log/slog"

type Message struct {
	To          []string
	Cc          []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []string
}

type MailSender interface {
	Send(message *Message) error
}

// NullMailSender drops every message. Used when no mail backend is configured.
type NullMailSender struct{}

func (NullMailSender) Send(message *Message) error {
	slog.Debug("Mail backend disabled, message dropped", "to", message.To, "subject", message.Subject)
	return nil
}
