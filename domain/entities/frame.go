package entities

import (
	"time"

	"github.com/google/uuid"
)

// Frame geometry used when normalizing captured stills
const (
	FrameWidth       = 640
	FrameHeight      = 480
	FrameJPEGQuality = 80
)

// CaptureFrame is a still image handed to the classifier exactly once
type CaptureFrame struct {
	ID          string
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// NewCaptureFrame wraps an encoded image in a frame with a fresh id
func NewCaptureFrame(data []byte, contentType string, capturedAt time.Time) CaptureFrame {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return CaptureFrame{
		ID:          uuid.NewString(),
		Data:        data,
		ContentType: contentType,
		CapturedAt:  capturedAt,
	}
}
