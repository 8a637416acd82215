package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend relays completed downloads to S3-compatible object storage.
type S3Backend struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	keyPrefix string
}

func NewS3Backend(client *s3.Client, bucket, keyPrefix string) *S3Backend {
	return &S3Backend{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
	}
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) Ready(ctx context.Context) bool {
	return b.client != nil && b.bucket != ""
}

// Upload sends a file or directory tree under bucket/keyPrefix/remoteHint,
// reporting byte-level progress over the whole payload.
func (b *S3Backend) Upload(ctx context.Context, localPath, remoteHint string, progress ProgressFunc) error {
	if b.bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	root := filepath.Clean(localPath)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat local path: %w", err)
	}

	type uploadFile struct {
		path string
		rel  string
		size int64
	}

	var files []uploadFile
	if info.IsDir() {
		err := filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return fmt.Errorf("relative path for %s: %w", path, err)
			}
			files = append(files, uploadFile{
				path: path,
				rel:  filepath.ToSlash(filepath.Join(filepath.Base(root), rel)),
				size: fi.Size(),
			})
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		files = append(files, uploadFile{path: root, rel: filepath.Base(root), size: info.Size()})
	}

	var totalSize int64
	for _, file := range files {
		totalSize += file.size
	}

	reporter := newProgressReporter(filepath.Base(root), totalSize, progress)
	if reporter != nil {
		reporter.start()
	}

	prefix := b.keyPrefix
	if hint := strings.Trim(remoteHint, "/"); hint != "" {
		if prefix != "" {
			prefix += "/"
		}
		prefix += hint
	}

	for _, file := range files {
		key := file.rel
		if prefix != "" {
			key = prefix + "/" + file.rel
		}

		f, err := os.Open(file.path)
		if err != nil {
			return fmt.Errorf("open file %s: %w", file.path, err)
		}
		var reader io.Reader = f
		if reporter != nil {
			reader = io.TeeReader(f, reporter)
		}
		_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Body:   reader,
			ACL:    types.ObjectCannedACLPrivate,
		})
		closeErr := f.Close()
		if err != nil {
			if reporter != nil {
				reporter.fail(err)
			}
			return fmt.Errorf("upload %s: %w", file.path, err)
		}
		if closeErr != nil {
			return fmt.Errorf("close file %s: %w", file.path, closeErr)
		}
	}

	if reporter != nil {
		reporter.finish()
	}
	return nil
}

var _ Backend = (*S3Backend)(nil)

// progressReporter translates byte writes into throttled Progress reports.
type progressReporter struct {
	name     string
	total    int64
	done     int64
	cb       ProgressFunc
	mu       sync.Mutex
	lastFire time.Time
}

func newProgressReporter(name string, total int64, cb ProgressFunc) *progressReporter {
	if cb == nil {
		return nil
	}
	return &progressReporter{name: name, total: total, cb: cb}
}

func (p *progressReporter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(len(b))
	now := time.Now()
	if now.Sub(p.lastFire) >= 200*time.Millisecond || p.done == p.total {
		p.lastFire = now
		p.cb(Progress{
			FileName:     p.name,
			TotalSize:    p.total,
			UploadedSize: p.done,
			State:        UploadStateUploading,
		})
	}
	return len(b), nil
}

func (p *progressReporter) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFire = time.Now()
	p.cb(Progress{FileName: p.name, TotalSize: p.total, State: UploadStateUploading})
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(Progress{
		FileName:     p.name,
		TotalSize:    p.total,
		UploadedSize: p.done,
		State:        UploadStateCompleted,
	})
}

func (p *progressReporter) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(Progress{
		FileName:     p.name,
		TotalSize:    p.total,
		UploadedSize: p.done,
		State:        UploadStateFailed,
		ErrorMessage: err.Error(),
	})
}
