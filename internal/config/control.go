package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	yaml "go.yaml.in/yaml/v3"
)

// ControlFile reads the entity edit file:
//
//	entities:
//	  bypass_switch_pump: "ON"
//	  crontab_text_field_pump: "0 */2 * * *"
//
// Changes reports only values that differ from the previous read, so an
// unchanged file never re-applies stale edits.
type ControlFile struct {
	path string

	mu   sync.Mutex
	last map[string]string
}

func NewControlFile(path string) *ControlFile {
	return &ControlFile{path: path, last: map[string]string{}}
}

func (c *ControlFile) Path() string { return c.path }

// Baseline records the current contents without reporting them.
func (c *ControlFile) Baseline() error {
	_, err := c.Changes()
	return err
}

// Changes returns entries added or modified since the last call.
// A missing file reads as empty.
func (c *ControlFile) Changes() (map[string]string, error) {
	cur, err := ReadControl(c.path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]string{}
	for k, v := range cur {
		if prev, ok := c.last[k]; !ok || prev != v {
			out[k] = v
		}
	}
	c.last = cur
	return out, nil
}

// ReadControl parses the control file into object id -> value.
func ReadControl(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc struct {
		Entities map[string]yaml.Node `yaml:"entities"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("control file: %w", err)
	}
	out := make(map[string]string, len(doc.Entities))
	for k, n := range doc.Entities {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("control file: %s: value must be a scalar", k)
		}
		out[k] = n.Value
	}
	return out, nil
}

// WriteYAML writes v to path atomically (tmp file + rename).
func WriteYAML(path string, v any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
