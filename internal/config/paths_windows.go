//go:build windows

package config

import (
	"os"
	"path/filepath"
)

// systemConfigDirs lists per-user then machine-wide directories.
func systemConfigDirs() []string {
	var dirs []string
	for _, env := range []string{"LOCALAPPDATA", "ProgramData"} {
		if base := os.Getenv(env); base != "" {
			dirs = append(dirs, filepath.Join(base, "Vitalis"))
		}
	}
	return dirs
}
