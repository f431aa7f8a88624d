//go:build !linux

package procutil

// LoadAverage is unsupported outside Linux.
func LoadAverage() (float64, error) {
	return 0, ErrLoadUnavailable
}
