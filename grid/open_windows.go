//go:build windows

package grid

import (
	"os/exec"
	"syscall"
)

func openExternally(path string) error {
	cmd := exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	// Prevents a console window from flashing.
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Start()
}
