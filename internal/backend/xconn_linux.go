//go:build linux

package backend

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgbutil"
)

// xConn refcounts one X connection for all duplication backends in the
// process. The last release closes it; the next acquire dials again,
// which is how a broken connection gets replaced.
type xConn struct {
	mu   sync.Mutex
	refs int
	xu   *xgbutil.XUtil
}

var sharedX xConn

func (x *xConn) acquire() (*xgbutil.XUtil, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.refs == 0 {
		xu, err := xgbutil.NewConn()
		if err != nil {
			return nil, fmt.Errorf("x11 connect: %w", err)
		}
		x.xu = xu
	}
	x.refs++
	return x.xu, nil
}

func (x *xConn) release() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.refs == 0 {
		return
	}
	x.refs--
	if x.refs > 0 {
		return
	}
	if x.xu != nil {
		x.xu.Conn().Close()
		x.xu = nil
	}
}
