package session

import (
	"os"

	"codeberg.org/mutker/posturectl/internal/errors"
)

// DeviceCamera grants camera access by opening a V4L2 device node.
type DeviceCamera struct {
	Path string
}

func (d DeviceCamera) Open() (func(), error) {
	errFactory := errors.New()

	f, err := os.OpenFile(d.Path, os.O_RDWR, 0)
	if err != nil {
		reason := "device unavailable"
		if os.IsPermission(err) {
			reason = "access denied"
		}
		return nil, errFactory.Wrap(errors.ErrCameraPermission, err).WithData(struct {
			Device string
			Reason string
		}{
			Device: d.Path,
			Reason: reason,
		})
	}

	return func() { f.Close() }, nil
}

type noCamera struct{}

func (noCamera) Open() (func(), error) {
	return nil, errors.New().WithMessage(errors.ErrCameraPermission, "no camera configured")
}
