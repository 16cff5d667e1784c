//go:build windows

package input

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const postSupported = true

const (
	wmKeyDown = 0x0100
	wmKeyUp   = 0x0101
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procPostMessageW        = user32.NewProc("PostMessageW")
	procMapVirtualKeyW      = user32.NewProc("MapVirtualKeyW")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
)

// postKey posts a WM_KEYDOWN/WM_KEYUP pair to the window. The lparam
// carries the hardware scancode and, on key up, the transition bits some
// message loops check before accepting synthetic input.
func postKey(hwnd uintptr, vk uint16) error {
	// Best effort; many games only read posted input when focused.
	procSetForegroundWindow.Call(hwnd)

	scan, _, _ := procMapVirtualKeyW.Call(uintptr(vk), 0)

	down := uintptr(1) | scan<<16
	up := down | 1<<30 | 1<<31

	if ret, _, err := procPostMessageW.Call(hwnd, wmKeyDown, uintptr(vk), down); ret == 0 {
		return fmt.Errorf("PostMessage WM_KEYDOWN: %w", err)
	}
	if ret, _, err := procPostMessageW.Call(hwnd, wmKeyUp, uintptr(vk), up); ret == 0 {
		return fmt.Errorf("PostMessage WM_KEYUP: %w", err)
	}
	return nil
}
