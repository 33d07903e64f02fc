//go:build linux

package display

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"

	"github.com/overglass/capscope/internal/geom"
)

const mmPerInch = 25.4

// x11Provider enumerates monitors through RandR, which exposes per-output
// detail the portable provider cannot see: output names, rotation,
// refresh rate and physical size.
type x11Provider struct{}

func (x11Provider) Detect() ([]MonitorInfo, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("x11 connect failed: %w", err)
	}
	defer xu.Conn().Close()

	conn := xu.Conn()
	root := xu.RootWin()

	if err := randr.Init(conn); err != nil {
		return nil, fmt.Errorf("randr init failed: %w", err)
	}

	resources, err := randr.GetScreenResources(conn, root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	modes := make(map[uint32]randr.ModeInfo, len(resources.Modes))
	for _, mode := range resources.Modes {
		modes[mode.Id] = mode
	}

	var primaryOutput randr.Output
	if primary, err := randr.GetOutputPrimary(conn, root).Reply(); err == nil {
		primaryOutput = primary.Output
	}

	depth := int(xu.Screen().RootDepth)
	workArea := currentWorkArea(xu)

	var monitors []MonitorInfo
	for _, crtc := range resources.Crtcs {
		crtcInfo, err := randr.GetCrtcInfo(conn, crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		// Skip disabled CRTCs
		if crtcInfo.Width == 0 || crtcInfo.Height == 0 || len(crtcInfo.Outputs) == 0 {
			continue
		}

		id := len(monitors)
		mon := MonitorInfo{
			ID:   id,
			Name: fmt.Sprintf("display-%d", id),
			Bounds: geom.Rect{
				X:      int(crtcInfo.X),
				Y:      int(crtcInfo.Y),
				Width:  int(crtcInfo.Width),
				Height: int(crtcInfo.Height),
			},
			DPIX:        defaultDPI,
			DPIY:        defaultDPI,
			ScaleFactor: 1.0,
			Orientation: orientationForRotation(crtcInfo.Rotation),
			RefreshRate: defaultRefreshHz,
			ColorDepth:  depth,
			Available:   true,
		}

		if info, err := randr.GetOutputInfo(conn, crtcInfo.Outputs[0], resources.ConfigTimestamp).Reply(); err == nil {
			if len(info.Name) > 0 {
				mon.Name = string(info.Name)
			}
			if info.MmWidth > 0 {
				mon.DPIX = float64(crtcInfo.Width) * mmPerInch / float64(info.MmWidth)
			}
			if info.MmHeight > 0 {
				mon.DPIY = float64(crtcInfo.Height) * mmPerInch / float64(info.MmHeight)
			}
			mon.ScaleFactor = mon.DPIX / defaultDPI
		}

		for _, output := range crtcInfo.Outputs {
			if primaryOutput != 0 && output == primaryOutput {
				mon.Primary = true
				break
			}
		}

		if mode, ok := modes[uint32(crtcInfo.Mode)]; ok && mode.Htotal > 0 && mode.Vtotal > 0 {
			mon.RefreshRate = float64(mode.DotClock) / (float64(mode.Htotal) * float64(mode.Vtotal))
		}

		mon.WorkArea = mon.Bounds
		if !workArea.Empty() {
			if wa := mon.Bounds.Intersect(workArea); !wa.Empty() {
				mon.WorkArea = wa
			}
		}

		monitors = append(monitors, mon)
	}

	if len(monitors) == 0 {
		return nil, fmt.Errorf("randr reported no active crtcs")
	}
	return monitors, nil
}

// currentWorkArea returns the EWMH work area for the current desktop, or
// the zero rect when the window manager does not publish one.
func currentWorkArea(xu *xgbutil.XUtil) geom.Rect {
	workAreas, err := ewmh.WorkareaGet(xu)
	if err != nil || len(workAreas) == 0 {
		return geom.Rect{}
	}

	idx := 0
	if current, err := ewmh.CurrentDesktopGet(xu); err == nil && int(current) < len(workAreas) {
		idx = int(current)
	}

	wa := workAreas[idx]
	return geom.Rect{X: int(wa.X), Y: int(wa.Y), Width: int(wa.Width), Height: int(wa.Height)}
}

func orientationForRotation(rotation uint16) Orientation {
	switch {
	case rotation&randr.RotationRotate90 != 0:
		return OrientationPortrait
	case rotation&randr.RotationRotate180 != 0:
		return OrientationLandscapeFlipped
	case rotation&randr.RotationRotate270 != 0:
		return OrientationPortraitFlipped
	default:
		return OrientationLandscape
	}
}
