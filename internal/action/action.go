// Package action builds schedule Actions from configuration.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"dyncron/internal/config"
	"dyncron/internal/schedule"
	logx "dyncron/pkg/logx"
)

type BuildOption func(*buildOptions)

type buildOptions struct {
	units UnitRunner
}

// WithUnits shares one systemd connection between systemd actions.
func WithUnits(r UnitRunner) BuildOption {
	return func(o *buildOptions) { o.units = r }
}

// Build returns the Action configured for schedule id. An empty type is a
// log action.
func Build(id string, cfg config.ActionConfig, log logx.Logger, opts ...BuildOption) (schedule.Action, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "action"), logx.String("id", id))

	switch t := strings.ToLower(strings.TrimSpace(cfg.Type)); t {
	case "", "log":
		var c LogConfig
		if err := decodeStrict(cfg.Config, &c); err != nil {
			return nil, fmt.Errorf("action %s: %w", id, err)
		}
		return NewLog(c, log), nil
	case "exec":
		var c ExecConfig
		if err := decodeStrict(cfg.Config, &c); err != nil {
			return nil, fmt.Errorf("action %s: %w", id, err)
		}
		return NewExec(c, log)
	case "systemd":
		var c SystemdConfig
		if err := decodeStrict(cfg.Config, &c); err != nil {
			return nil, fmt.Errorf("action %s: %w", id, err)
		}
		return NewSystemd(c, o.units, log)
	default:
		return nil, fmt.Errorf("action %s: unknown type %q", id, cfg.Type)
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type LogConfig struct {
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`
}

// Log writes one log line per fire.
type Log struct {
	msg   string
	level string
	log   logx.Logger
}

func NewLog(c LogConfig, log logx.Logger) *Log {
	msg := c.Message
	if msg == "" {
		msg = "schedule triggered"
	}
	return &Log{msg: msg, level: strings.ToLower(c.Level), log: log}
}

func (a *Log) Fire() bool {
	switch a.level {
	case "debug":
		a.log.Debug(a.msg)
	case "warn":
		a.log.Warn(a.msg)
	default:
		a.log.Info(a.msg)
	}
	return true
}
