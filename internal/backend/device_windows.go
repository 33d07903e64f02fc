//go:build windows

package backend

import (
	"fmt"
	"sync"

	"github.com/kirides/screencapture/d3d"
)

// d3dDevice refcounts one D3D11 device for all duplication backends in
// the process. Duplicators for different outputs share it; the last
// release frees the native handles and the next acquire dials fresh
// ones, which is how a lost device gets replaced.
type d3dDevice struct {
	mu     sync.Mutex
	refs   int
	device *d3d.ID3D11Device
	ctx    *d3d.ID3D11DeviceContext
}

var sharedDevice d3dDevice

func (d *d3dDevice) acquire() (*d3d.ID3D11Device, *d3d.ID3D11DeviceContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		device, ctx, err := d3d.NewD3D11Device()
		if err != nil {
			return nil, nil, fmt.Errorf("d3d11 device: %w", err)
		}
		d.device = device
		d.ctx = ctx
	}
	d.refs++
	return d.device, d.ctx, nil
}

func (d *d3dDevice) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return
	}
	d.refs--
	if d.refs > 0 {
		return
	}
	if d.ctx != nil {
		d.ctx.Release()
		d.ctx = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
}
