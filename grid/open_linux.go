//go:build linux

package grid

import (
	"os/exec"

	"fyne.io/fyne/v2/storage"
	"github.com/rymdport/portal/openuri"
)

// openExternally hands the file to the desktop's default handler. The XDG
// portal works in sandboxes (Flatpak, Snap) where spawning xdg-open does
// not; the plain command is the fallback for bare desktops without a
// portal service.
func openExternally(path string) error {
	uri := storage.NewFileURI(path).String()
	if err := openuri.OpenURI("", uri, nil); err == nil {
		return nil
	}
	return exec.Command("xdg-open", path).Start()
}
