package notify

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// MessageRef identifies a rendered message so it can be edited later. The
// zero MessageID means the sink could not produce an editable surface.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Sink delivers user-facing messages. Implementations wrap a chat transport;
// failures are expected (surface deleted, rate limited) and must be handled
// by callers as log-and-continue, never as loop-fatal.
type Sink interface {
	SendMessage(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	// SendDocument relays a local file to a destination chat or channel.
	// destination is a chat id or @channel handle understood by the
	// transport.
	SendDocument(ctx context.Context, destination string, localPath string, caption string) error
}

// LogSink is the fallback sink used when no chat transport is wired. It
// writes every message to the log, which keeps monitors and uploads
// observable in headless deployments.
type LogSink struct {
	logger *logrus.Logger
	nextID atomic.Int64
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SendMessage(ctx context.Context, chatID int64, text string) (MessageRef, error) {
	id := s.nextID.Add(1)
	s.logger.WithField("chat_id", chatID).Info(text)
	return MessageRef{ChatID: chatID, MessageID: id}, nil
}

func (s *LogSink) EditMessage(ctx context.Context, ref MessageRef, text string) error {
	s.logger.WithField("chat_id", ref.ChatID).WithField("message_id", ref.MessageID).Info(text)
	return nil
}

func (s *LogSink) SendDocument(ctx context.Context, destination, localPath, caption string) error {
	s.logger.WithField("destination", destination).Infof("document %s: %s", localPath, caption)
	return nil
}

var _ Sink = (*LogSink)(nil)
