//go:build !linux && !windows

package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
)

// Duplication is not implemented on this platform; the compositing
// backend carries capture alone.
type Duplication struct{}

var _ Backend = (*Duplication)(nil)

// NewDuplication returns a backend that reports unavailable.
func NewDuplication(timeout time.Duration, logger *slog.Logger) *Duplication {
	return &Duplication{}
}

// Kind reports KindDuplication.
func (d *Duplication) Kind() Kind { return KindDuplication }

// Available always reports false here.
func (d *Duplication) Available() bool { return false }

// Configure always fails here.
func (d *Duplication) Configure(region display.Region) error { return ErrUnavailable }

// CaptureOnce always fails here.
func (d *Duplication) CaptureOnce(ctx context.Context) (*frame.Frame, error) {
	return nil, ErrUnavailable
}

// Release does nothing here.
func (d *Duplication) Release() {}
