//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager runs unit jobs on the system bus. The connection is opened on
// first use and reopened after it breaks.
type Manager struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func New() *Manager { return &Manager{} }

func (m *Manager) connect(ctx context.Context) (*dbus.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && m.conn.Connected() {
		return m.conn, nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// Run queues op for unit in "replace" mode and waits for the job to finish.
func (m *Manager) Run(ctx context.Context, op Op, unit string) error {
	conn, err := m.connect(ctx)
	if err != nil {
		return err
	}
	unit = UnitName(unit)
	done := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = conn.StartUnitContext(ctx, unit, "replace", done)
	case OpStop:
		_, err = conn.StopUnitContext(ctx, unit, "replace", done)
	case OpRestart:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
	default:
		return fmt.Errorf("unknown unit operation %q", op)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}
	select {
	case res := <-done:
		return jobResult(op, unit, res)
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", op, unit, ctx.Err())
	}
}

// Close closes the systemd connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}
