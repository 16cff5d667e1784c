//go:build !windows

package winctl

func enumWindows() ([]Window, error) {
	return nil, ErrUnsupported
}
