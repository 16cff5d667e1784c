//go:build windows

package winctl

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows         = user32.NewProc("EnumWindows")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength = user32.NewProc("GetWindowTextLengthW")
	procIsWindow            = user32.NewProc("IsWindow")
	procIsWindowEnabled     = user32.NewProc("IsWindowEnabled")
	procIsWindowVisible     = user32.NewProc("IsWindowVisible")
)

// EnumWindows callbacks are never released, so one callback is created for
// the process and the collector slice is guarded for reuse.
var (
	enumMu        sync.Mutex
	enumCollected []Window

	enumCallback = windows.NewCallback(func(hwnd uintptr, lparam uintptr) uintptr {
		if !isCandidate(hwnd) {
			return 1 // continue enumeration
		}
		title := windowText(hwnd)
		if title == "" {
			return 1
		}
		enumCollected = append(enumCollected, Window{Handle: hwnd, Title: title})
		return 1
	})
)

// enumWindows lists the visible, enabled, titled top-level windows
func enumWindows() ([]Window, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumCollected = nil
	ret, _, err := procEnumWindows.Call(enumCallback, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumWindows: %w", err)
	}

	out := make([]Window, len(enumCollected))
	copy(out, enumCollected)
	return out, nil
}

func isCandidate(hwnd uintptr) bool {
	if ret, _, _ := procIsWindow.Call(hwnd); ret == 0 {
		return false
	}
	if ret, _, _ := procIsWindowEnabled.Call(hwnd); ret == 0 {
		return false
	}
	if ret, _, _ := procIsWindowVisible.Call(hwnd); ret == 0 {
		return false
	}
	return true
}

func windowText(hwnd uintptr) string {
	length, _, _ := procGetWindowTextLength.Call(hwnd)
	if length == 0 {
		return ""
	}

	buf := make([]uint16, length+1)
	read, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), length+1)
	if read == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:read])
}
