package cloud

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"aria2bot/internal/notify"
)

const (
	// Payload limits: the standard relay caps documents at 50MB, a
	// self-hosted relay API raises that to 2GB.
	channelStandardLimit  = 50 * 1024 * 1024
	channelSelfHostLimit  = 2 * 1024 * 1024 * 1024
	channelUploadAttempts = 3
	channelRetryDelay     = 5 * time.Second
)

// ChannelBackend relays completed downloads into a chat channel through the
// notification sink's document primitive. The destination is read through a
// function on every call so persisted settings changes take effect without a
// restart.
type ChannelBackend struct {
	sink        notify.Sink
	destination func() string
	maxSize     int64
	retryDelay  time.Duration
	logger      *logrus.Logger
}

func NewChannelBackend(sink notify.Sink, destination func() string, selfHosted bool, logger *logrus.Logger) *ChannelBackend {
	if logger == nil {
		logger = logrus.New()
	}
	maxSize := int64(channelStandardLimit)
	if selfHosted {
		maxSize = channelSelfHostLimit
	}
	return &ChannelBackend{
		sink:        sink,
		destination: destination,
		maxSize:     maxSize,
		retryDelay:  channelRetryDelay,
		logger:      logger,
	}
}

func (b *ChannelBackend) Name() string { return "channel" }

func (b *ChannelBackend) Ready(ctx context.Context) bool {
	return b.destination() != ""
}

func (b *ChannelBackend) MaxPayloadSize() int64 {
	return b.maxSize
}

// Upload sends the file as a channel document, retrying transient transport
// failures a few times before giving up.
func (b *ChannelBackend) Upload(ctx context.Context, localPath, remoteHint string, progress ProgressFunc) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("channel upload supports single files only")
	}
	if info.Size() > b.maxSize {
		return fmt.Errorf("file exceeds %dMB channel limit", b.maxSize/(1024*1024))
	}
	destination := b.destination()
	if destination == "" {
		return fmt.Errorf("channel destination is not configured")
	}

	if progress != nil {
		progress(Progress{
			FileName:  info.Name(),
			TotalSize: info.Size(),
			State:     UploadStateUploading,
		})
	}

	caption := info.Name()
	var lastErr error
	for attempt := 1; attempt <= channelUploadAttempts; attempt++ {
		lastErr = b.sink.SendDocument(ctx, destination, localPath, caption)
		if lastErr == nil {
			if progress != nil {
				progress(Progress{
					FileName:     info.Name(),
					TotalSize:    info.Size(),
					UploadedSize: info.Size(),
					State:        UploadStateCompleted,
				})
			}
			return nil
		}
		b.logger.Warnf("channel upload attempt %d/%d failed: %v", attempt, channelUploadAttempts, lastErr)
		if attempt < channelUploadAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay):
			}
		}
	}

	if progress != nil {
		progress(Progress{
			FileName:     info.Name(),
			TotalSize:    info.Size(),
			State:        UploadStateFailed,
			ErrorMessage: lastErr.Error(),
		})
	}
	return fmt.Errorf("send to channel: %w", lastErr)
}

var (
	_ Backend     = (*ChannelBackend)(nil)
	_ SizeLimited = (*ChannelBackend)(nil)
)
