// Package capture provides still frame sources for the detection scheduler.
package capture

import (
	"bytes"
	"image"
	"io"
	"io/fs"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// EncodeFrame fits img within the frame bounds and encodes it as a JPEG frame
func EncodeFrame(img image.Image, at time.Time) (entities.CaptureFrame, error) {
	fitted := imaging.Fit(img, entities.FrameWidth, entities.FrameHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(entities.FrameJPEGQuality)); err != nil {
		return entities.CaptureFrame{}, errors.Wrap(err, "encode frame")
	}
	return entities.NewCaptureFrame(buf.Bytes(), "image/jpeg", at), nil
}

// NormalizeImage decodes any supported image from r and re-encodes it as a frame
func NormalizeImage(r io.Reader) (entities.CaptureFrame, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return entities.CaptureFrame{}, errors.Wrap(err, "decode image")
	}
	return EncodeFrame(img, time.Now())
}

// openError maps a failure to read an image into the capture error kinds
func openError(path string, err error) *entities.DetectionError {
	if errors.Is(err, fs.ErrPermission) {
		return entities.NewDetectionError(entities.ErrorKindPermissionDenied, "access to "+path+" denied", err)
	}
	return entities.NewDetectionError(entities.ErrorKindDeviceUnavailable, "cannot read "+path, err)
}
