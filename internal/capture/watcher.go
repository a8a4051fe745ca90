package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/kimhsiao/scriberr-companion/internal/logging"
	"github.com/kimhsiao/scriberr-companion/internal/models"
)

// Ingester receives facts about a finished capture file. Re-ingesting
// a known path must be a no-op.
type Ingester interface {
	IngestCapture(ctx context.Context, filePath, title string, durationSec float64, createdAt time.Time) (*models.Recording, error)
}

// settleDelay is how long a new file must stop growing before it is
// treated as a finished capture. Recorders write WAV data
// incrementally and only the closed file has a valid header.
const settleDelay = 2 * time.Second

// Watcher monitors the recordings directory for new capture files.
type Watcher struct {
	dir      string
	ingester Ingester
	watcher  *fsnotify.Watcher
	log      *logrus.Entry
}

// NewWatcher creates a Watcher over dir.
func NewWatcher(dir string, ingester Ingester) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		watcher:  fsw,
		log:      logging.WithComponent("capture"),
	}, nil
}

// Rescan walks the recordings directory and ingests every WAV file
// found. The ingester skips paths the ledger already tracks, so
// running this on every startup is safe.
func (w *Watcher) Rescan(ctx context.Context) error {
	return filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isCaptureFile(path) {
			return nil
		}
		w.ingest(ctx, path)
		return nil
	})
}

// Run watches for new captures until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.log.WithField("dir", w.dir).Info("watching recordings directory")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Error("file watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if !isCaptureFile(event.Name) {
		return
	}

	// The capture may still be streaming to disk. Wait for the file
	// to stop growing before reading its header.
	go func() {
		if !w.waitSettled(ctx, event.Name) {
			return
		}
		w.ingest(ctx, event.Name)
	}()
}

// waitSettled blocks until the file size holds steady across one
// settle interval. Returns false if the file disappears or the
// context ends first.
func (w *Watcher) waitSettled(ctx context.Context, path string) bool {
	var lastSize int64 = -1
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(settleDelay):
		}

		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	duration, err := ProbeDuration(path)
	if err != nil {
		w.log.WithError(err).WithField("path", path).Warn("skipping unreadable capture file")
		return
	}

	createdAt := time.Now()
	if info, err := os.Stat(path); err == nil {
		createdAt = info.ModTime()
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := w.ingester.IngestCapture(ctx, path, title, duration, createdAt); err != nil {
		w.log.WithError(err).WithField("path", path).Error("failed to ingest capture")
	}
}

func isCaptureFile(path string) bool {
	if strings.HasSuffix(path, ".tmp") {
		return false
	}
	return strings.EqualFold(filepath.Ext(path), ".wav")
}
