//go:build !linux && !windows

package grid

import (
	"os/exec"
	"runtime"
)

func openExternally(path string) error {
	if runtime.GOOS == "darwin" {
		return exec.Command("open", path).Start()
	}
	return exec.Command("xdg-open", path).Start()
}
