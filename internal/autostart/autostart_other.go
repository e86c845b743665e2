//go:build !linux && !windows

package autostart

type unsupported struct{}

// New returns a Manager that always fails with ErrUnsupported.
func New() Manager {
	return unsupported{}
}

func (unsupported) IsInstalled(string) (bool, error) { return false, ErrUnsupported }
func (unsupported) Install(Unit) error               { return ErrUnsupported }
func (unsupported) Uninstall(string) error           { return ErrUnsupported }
