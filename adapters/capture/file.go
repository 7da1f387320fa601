package capture

import (
	"context"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
)

// FileSource captures by re-reading a single image file, such as a snapshot written by a camera daemon
type FileSource struct {
	path   string
	logger *zap.Logger
}

var _ repositories.CaptureSource = (*FileSource)(nil)

func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// AcquireFrame implements repositories.CaptureSource
func (s *FileSource) AcquireFrame(ctx context.Context) (entities.CaptureFrame, error) {
	return readFrame(ctx, s.path, s.logger)
}

func readFrame(ctx context.Context, path string, logger *zap.Logger) (entities.CaptureFrame, error) {
	if err := ctx.Err(); err != nil {
		return entities.CaptureFrame{}, entities.NewDetectionError(entities.ErrorKindDeviceUnavailable, "capture cancelled", err)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return entities.CaptureFrame{}, openError(path, err)
	}

	frame, err := EncodeFrame(img, time.Now())
	if err != nil {
		return entities.CaptureFrame{}, entities.NewDetectionError(entities.ErrorKindDeviceUnavailable, "cannot encode "+path, err)
	}

	logger.Debug("Captured frame",
		zap.String("path", path),
		zap.String("frameID", frame.ID),
		zap.Int("bytes", len(frame.Data)))
	return frame, nil
}
