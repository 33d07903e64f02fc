//go:build !linux

package display

// SystemProvider returns the provider chain for this platform.
func SystemProvider() Provider {
	return boundsProvider{}
}
