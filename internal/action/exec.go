package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"dyncron/internal/config"
	logx "dyncron/pkg/logx"
)

type ExecConfig struct {
	Command []string          `json:"command"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout string            `json:"timeout,omitempty"` // Go duration string; default 1m
}

const defaultExecTimeout = time.Minute

// Exec starts a command on each fire without waiting for it. A fire while the
// previous run is still active is skipped and reports false.
type Exec struct {
	argv    []string
	dir     string
	env     []string
	timeout time.Duration
	log     logx.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewExec(c ExecConfig, log logx.Logger) (*Exec, error) {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return nil, errors.New("exec: command is required")
	}
	timeout, err := config.ParseDurationOrDefault("action.config.timeout", c.Timeout, defaultExecTimeout)
	if err != nil {
		return nil, err
	}
	var env []string
	if len(c.Env) > 0 {
		env = os.Environ()
		for k, v := range c.Env {
			env = append(env, k+"="+v)
		}
	}
	return &Exec{
		argv:    append([]string(nil), c.Command...),
		dir:     c.Dir,
		env:     env,
		timeout: timeout,
		log:     log,
	}, nil
}

func (a *Exec) Fire() bool {
	if !a.running.CompareAndSwap(false, true) {
		a.log.Warn("previous run still active; skipping", logx.String("command", a.argv[0]))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	cmd := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...)
	cmd.Dir = a.dir
	cmd.Env = a.env

	began := time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		a.running.Store(false)
		a.log.Warn("command failed to start", logx.String("command", a.argv[0]), logx.Err(err))
		return false
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		defer cancel()
		err := cmd.Wait()
		fields := []logx.Field{
			logx.String("command", a.argv[0]),
			logx.Duration("took", time.Since(began)),
		}
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("timed out after %s: %w", a.timeout, err)
			}
			a.log.Warn("command finished with error", append(fields, logx.Err(err))...)
			return
		}
		a.log.Info("command finished", fields...)
	}()
	return true
}

// Running reports whether a started command has not exited yet.
func (a *Exec) Running() bool { return a.running.Load() }

// Wait blocks until every started command has exited.
func (a *Exec) Wait() { a.wg.Wait() }
