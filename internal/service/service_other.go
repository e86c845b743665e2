//go:build !windows

package service

import "context"

// IsWindowsService always returns false outside Windows.
func IsWindowsService() bool {
	return false
}

func (s *Service) runService() error {
	return s.Foreground(context.Background())
}
