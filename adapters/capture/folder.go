package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// FolderSource watches a directory and captures the most recently written image in it
type FolderSource struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.RWMutex
	latest   string
	latestAt time.Time

	done chan struct{}
}

var _ repositories.ClosableCaptureSource = (*FolderSource)(nil)

// NewFolderSource scans dir for the newest image and starts watching it for new ones
func NewFolderSource(dir string, logger *zap.Logger) (*FolderSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, openError(dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create folder watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, openError(dir, err)
	}

	s := &FolderSource{
		dir:     dir,
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}

	for _, entry := range entries {
		if entry.IsDir() || !isImage(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.offer(filepath.Join(dir, entry.Name()), info.ModTime())
	}

	go s.watchLoop()
	logger.Info("Watching capture folder", zap.String("dir", dir), zap.String("latest", s.Latest()))
	return s, nil
}

// Latest returns the path of the image that the next capture will read
func (s *FolderSource) Latest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// AcquireFrame implements repositories.CaptureSource
func (s *FolderSource) AcquireFrame(ctx context.Context) (entities.CaptureFrame, error) {
	path := s.Latest()
	if path == "" {
		return entities.CaptureFrame{}, entities.NewDetectionError(entities.ErrorKindDeviceUnavailable, "no image in "+s.dir+" yet", nil)
	}
	return readFrame(ctx, path, s.logger)
}

// Close stops watching the folder
func (s *FolderSource) Close() error {
	err := s.watcher.Close()
	<-s.done
	return err
}

func (s *FolderSource) watchLoop() {
	defer close(s.done)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Capture folder watch error", zap.String("dir", s.dir), zap.Error(err))
		}
	}
}

func (s *FolderSource) handleEvent(event fsnotify.Event) {
	if !isImage(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		s.offer(event.Name, time.Now())
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		s.mu.Lock()
		if s.latest == event.Name {
			s.latest = ""
			s.latestAt = time.Time{}
		}
		s.mu.Unlock()
	}
}

// offer makes path the latest image if it is at least as new as the current one
func (s *FolderSource) offer(path string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != "" && at.Before(s.latestAt) {
		return
	}
	if s.latest != path {
		s.logger.Debug("New capture image", zap.String("path", path))
	}
	s.latest = path
	s.latestAt = at
}

func isImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
