//go:build !windows

package input

const postSupported = false

func postKey(hwnd uintptr, vk uint16) error {
	return ErrBackendUnsupported
}
