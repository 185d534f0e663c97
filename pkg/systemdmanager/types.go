// Package systemdmanager starts, stops and restarts systemd units over D-Bus.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// Op is a unit job type.
type Op string

const (
	OpStart   Op = "start"
	OpStop    Op = "stop"
	OpRestart Op = "restart"
)

// ParseOp accepts start, stop or restart (case-insensitive). Empty means start.
func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case "":
		return OpStart, nil
	case OpStart, OpStop, OpRestart:
		return op, nil
	default:
		return "", fmt.Errorf("unknown unit operation %q", s)
	}
}

// UnitName appends ".service" to a bare name.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// jobResult turns a systemd job result string into an error.
func jobResult(op Op, unit, result string) error {
	if result == "done" {
		return nil
	}
	return fmt.Errorf("%s %s: job %s", op, unit, result)
}
