package capture

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
)

// SyntheticSource renders a simple generated face so the pipeline can run without a camera
type SyntheticSource struct {
	count atomic.Uint64
}

var _ repositories.CaptureSource = (*SyntheticSource)(nil)

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{}
}

// AcquireFrame implements repositories.CaptureSource
func (s *SyntheticSource) AcquireFrame(ctx context.Context) (entities.CaptureFrame, error) {
	if err := ctx.Err(); err != nil {
		return entities.CaptureFrame{}, entities.NewDetectionError(entities.ErrorKindDeviceUnavailable, "capture cancelled", err)
	}

	n := s.count.Add(1)
	shade := uint8(40 + n%8*20)
	background := imaging.New(entities.FrameWidth, entities.FrameHeight, color.NRGBA{R: shade, G: shade, B: shade, A: 255})

	face := imaging.New(200, 260, color.NRGBA{R: 224, G: 172, B: 105, A: 255})
	eye := imaging.New(24, 16, color.NRGBA{A: 255})
	face = imaging.Paste(face, eye, image.Pt(50, 80))
	face = imaging.Paste(face, eye, image.Pt(126, 80))

	// mouth height alternates so consecutive frames differ
	mouth := imaging.New(90, 10+int(n%3)*10, color.NRGBA{R: 120, A: 255})
	face = imaging.Paste(face, mouth, image.Pt(55, 180))

	return EncodeFrame(imaging.PasteCenter(background, face), time.Now())
}
