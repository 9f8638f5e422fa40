package monitor

import (
	"context"
	"errors"

	"github.com/alertory/monitor/internal/audio"
)

// NoticeMicrophoneDenied is shown to the operator when the microphone cannot be opened.
const NoticeMicrophoneDenied = "마이크에 접근할 수 없습니다. 장치 권한 설정을 확인해주세요."

// ErrUnmounted is returned by Start after the monitor has been unmounted.
var ErrUnmounted = errors.New("monitor is unmounted")

// ErrInvalidThreshold is returned for thresholds outside 1..255.
var ErrInvalidThreshold = errors.New("threshold must be between 1 and 255")

// HardwareAccessError reports that the microphone could not be acquired.
type HardwareAccessError struct {
	Err    error
	Notice string
}

func (e *HardwareAccessError) Error() string {
	return "microphone unavailable: " + e.Err.Error()
}

func (e *HardwareAccessError) Unwrap() error { return e.Err }

// failureReason classifies a start failure for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrNoAudioDevice):
		return "no_device"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
