package repositories

import (
	"context"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// CaptureSource produces still frames on demand.
// Failures are *entities.DetectionError of kind PermissionDenied or DeviceUnavailable.
type CaptureSource interface {
	AcquireFrame(ctx context.Context) (entities.CaptureFrame, error)
}

// ClosableCaptureSource is a capture source holding resources that must be released
type ClosableCaptureSource interface {
	CaptureSource
	Close() error
}
