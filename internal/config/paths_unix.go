//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

// systemConfigDirs lists per-user then system-wide directories.
func systemConfigDirs() []string {
	var dirs []string
	if xdg, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(xdg, "vitalis"))
	}
	return append(dirs, "/etc/vitalis")
}
