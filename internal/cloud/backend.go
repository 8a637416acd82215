package cloud

import "context"

type UploadState string

const (
	UploadStatePending   UploadState = "pending"
	UploadStateUploading UploadState = "uploading"
	UploadStateCompleted UploadState = "completed"
	UploadStateFailed    UploadState = "failed"
)

// Progress is a point-in-time report from a running upload.
type Progress struct {
	FileName     string
	TotalSize    int64
	UploadedSize int64
	State        UploadState
	ErrorMessage string
}

func (p Progress) Percent() float64 {
	if p.TotalSize == 0 {
		return 0.0
	}
	return float64(p.UploadedSize) / float64(p.TotalSize) * 100
}

type ProgressFunc func(Progress)

// Backend relays a completed download to one storage destination. Failures
// are returned, never panicked; the coordinator converts them into
// user-visible messages.
type Backend interface {
	Name() string
	// Ready reports whether the backend is configured and authenticated
	// well enough to attempt an upload.
	Ready(ctx context.Context) bool
	// Upload sends the local file (or directory) to the backend.
	// remoteHint narrows the destination, e.g. a key prefix.
	Upload(ctx context.Context, localPath, remoteHint string, progress ProgressFunc) error
}

// SizeLimited is implemented by backends with a hard payload cap. Oversize
// files are skipped with a warning rather than treated as failures.
type SizeLimited interface {
	MaxPayloadSize() int64
}

// Flags are one backend's user-configurable switches, read at invocation
// time so toggles take effect immediately.
type Flags struct {
	Enabled           bool
	AutoUpload        bool
	DeleteAfterUpload bool
}

// SettingsSource exposes the live backend flags.
type SettingsSource interface {
	RemoteFlags() Flags
	ChannelFlags() Flags
}
