//go:build !linux

package systemdmanager

import "context"

type Manager struct{}

func New() *Manager { return &Manager{} }

func (m *Manager) Run(context.Context, Op, string) error { return ErrUnsupported }

func (m *Manager) Close() error { return nil }
