package display

import "github.com/overglass/capscope/internal/geom"

// Orientation describes the rotation of a monitor.
type Orientation string

const (
	OrientationLandscape        Orientation = "landscape"
	OrientationPortrait         Orientation = "portrait"
	OrientationLandscapeFlipped Orientation = "landscape-flipped"
	OrientationPortraitFlipped  Orientation = "portrait-flipped"
)

// MonitorInfo describes one display at enumeration time. ID is the
// positional index assigned during enumeration, not an OS handle, and is
// only stable until the next refresh.
type MonitorInfo struct {
	ID          int
	Name        string
	Bounds      geom.Rect // full bounds in virtual desktop coordinates
	WorkArea    geom.Rect // bounds minus panels and docks
	Primary     bool
	DPIX        float64
	DPIY        float64
	ScaleFactor float64
	Orientation Orientation
	RefreshRate float64 // Hz
	ColorDepth  int     // bits per pixel
	Available   bool
}

// Region identifies a rectangular capture target. It holds copies of
// topology data, so a later refresh never invalidates a region already
// handed out.
type Region struct {
	Bounds  geom.Rect
	Monitor int     // owning monitor ID at build time
	Window  uintptr // native window handle, 0 when not window-scoped
}
