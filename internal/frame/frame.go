// Package frame defines the captured-frame value passed from the capture
// pipeline to consumers.
package frame

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/overglass/capscope/internal/display"
)

// Well-known Meta keys stamped by the capture pipeline.
const (
	// MetaMethod names the backend that produced the frame.
	MetaMethod = "method"
	// MetaFrameRate is the target frame rate at capture time.
	MetaFrameRate = "frame_rate"
	// MetaProfile is the performance profile at capture time.
	MetaProfile = "profile"
	// MetaScale is the effective quality scale applied to the pixels.
	MetaScale = "scale"
)

// Frame is a single captured image plus the context it was taken in.
// The pixel buffer is owned by the frame; backends hand over a copy, so
// consumers may hold on to it past the next capture.
type Frame struct {
	RGBA       *image.RGBA
	CapturedAt time.Time
	Region     display.Region
	TraceID    string
	Meta       map[string]string
}

// New wraps a pixel buffer in a frame, stamping the capture time and a
// fresh trace ID for correlating pipeline log lines.
func New(img *image.RGBA, region display.Region) *Frame {
	return &Frame{
		RGBA:       img,
		CapturedAt: time.Now(),
		Region:     region,
		TraceID:    uuid.NewString(),
		Meta:       make(map[string]string),
	}
}

// Width returns the pixel width of the frame, zero when empty.
func (f *Frame) Width() int {
	if f == nil || f.RGBA == nil {
		return 0
	}
	return f.RGBA.Rect.Dx()
}

// Height returns the pixel height of the frame, zero when empty.
func (f *Frame) Height() int {
	if f == nil || f.RGBA == nil {
		return 0
	}
	return f.RGBA.Rect.Dy()
}
