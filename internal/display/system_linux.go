//go:build linux

package display

// SystemProvider returns the provider chain for this platform: RandR
// detail first, portable bounds enumeration when X11 is unreachable.
func SystemProvider() Provider {
	return Chain(x11Provider{}, boundsProvider{})
}
