//go:build linux

package autostart

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const unitDir = "/etc/systemd/system"

type systemdManager struct {
	dir string
	run func(args ...string) error
}

// New returns the systemd Manager.
func New() Manager {
	return &systemdManager{dir: unitDir, run: systemctl}
}

func systemctl(args ...string) error {
	if err := exec.Command("systemctl", args...).Run(); err != nil {
		return fmt.Errorf("running systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (m *systemdManager) unitPath(name string) string {
	return filepath.Join(m.dir, name+".service")
}

func (m *systemdManager) IsInstalled(name string) (bool, error) {
	_, err := os.Stat(m.unitPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking unit file: %w", err)
	}
	return true, nil
}

func (m *systemdManager) Install(u Unit) error {
	if u.DataDir != "" {
		if err := os.MkdirAll(u.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}
	unit, err := SystemdUnit(u)
	if err != nil {
		return fmt.Errorf("rendering unit: %w", err)
	}
	if err := os.WriteFile(m.unitPath(u.Name), []byte(unit), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}
	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", u.Name},
		{"start", u.Name},
	} {
		if err := m.run(args...); err != nil {
			return err
		}
	}
	return nil
}

// Uninstall stops the unit if it is running and removes it.
func (m *systemdManager) Uninstall(name string) error {
	_ = m.run("stop", name)
	_ = m.run("disable", name)

	if err := os.Remove(m.unitPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	return m.run("daemon-reload")
}
