package email

import (
	"context"

	"github.com/smsinbox/site-api/internal/logging"
)

// Message is one transactional email with HTML and plain-text parts.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message. It never returns an error: failures are
// logged by the implementation and reported as false.
type Sender interface {
	Send(ctx context.Context, msg Message) bool
}

// LogSender logs messages instead of delivering them. The body, which
// carries token links, is only logged when includeBody is set (development).
type LogSender struct {
	logger      *logging.Logger
	includeBody bool
}

func NewLogSender(logger *logging.Logger, includeBody bool) *LogSender {
	return &LogSender{logger: logger, includeBody: includeBody}
}

func (s *LogSender) Send(ctx context.Context, msg Message) bool {
	attrs := []any{"to", logging.MaskEmail(msg.To), "subject", msg.Subject}
	if s.includeBody {
		attrs = append(attrs, "text", msg.Text)
	}
	s.logger.InfoContext(ctx, "email not delivered (log provider)", attrs...)
	return true
}
