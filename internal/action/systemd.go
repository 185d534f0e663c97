package action

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dyncron/internal/config"
	logx "dyncron/pkg/logx"
	"dyncron/pkg/systemdmanager"
)

type SystemdConfig struct {
	Unit    string `json:"unit"`
	Op      string `json:"op,omitempty"`      // start (default), stop or restart
	Timeout string `json:"timeout,omitempty"` // Go duration string; default 30s
}

const defaultUnitTimeout = 30 * time.Second

// UnitRunner runs one systemd unit job. *systemdmanager.Manager implements it.
type UnitRunner interface {
	Run(ctx context.Context, op systemdmanager.Op, unit string) error
}

// Systemd queues a unit job on each fire without waiting for it. A fire
// while the previous job is still pending is skipped and reports false.
type Systemd struct {
	unit    string
	op      systemdmanager.Op
	timeout time.Duration
	units   UnitRunner
	log     logx.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewSystemd(c SystemdConfig, units UnitRunner, log logx.Logger) (*Systemd, error) {
	unit := systemdmanager.UnitName(c.Unit)
	if unit == "" {
		return nil, errors.New("systemd: unit is required")
	}
	op, err := systemdmanager.ParseOp(c.Op)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationOrDefault("action.config.timeout", c.Timeout, defaultUnitTimeout)
	if err != nil {
		return nil, err
	}
	if units == nil {
		units = systemdmanager.New()
	}
	return &Systemd{unit: unit, op: op, timeout: timeout, units: units, log: log}, nil
}

func (a *Systemd) Fire() bool {
	if !a.running.CompareAndSwap(false, true) {
		a.log.Warn("previous unit job still pending; skipping", logx.String("unit", a.unit))
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		began := time.Now()
		fields := []logx.Field{logx.String("unit", a.unit), logx.String("op", string(a.op))}
		if err := a.units.Run(ctx, a.op, a.unit); err != nil {
			a.log.Warn("unit job failed", append(fields, logx.Err(err))...)
			return
		}
		a.log.Info("unit job done", append(fields, logx.Duration("took", time.Since(began)))...)
	}()
	return true
}

// Wait blocks until every queued job has finished.
func (a *Systemd) Wait() { a.wg.Wait() }
