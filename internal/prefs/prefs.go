package prefs

import (
	"context"
	"fmt"

	"dyncron/internal/storage"
)

// Prefs reads and writes Records through a storage.Store.
type Prefs struct {
	st storage.Store
}

func New(st storage.Store) *Prefs {
	return &Prefs{st: st}
}

// Load returns the stored record overlaid on defaults.
//
// A missing or corrupt record yields defaults and an error matching
// ErrNotFound (corrupt records additionally match ErrCorrupt). Storage
// failures are returned as-is, also with defaults.
func (p *Prefs) Load(ctx context.Context, key string, defaults Record) (Record, error) {
	b, ok, err := p.st.Get(ctx, key)
	if err != nil {
		return defaults, fmt.Errorf("prefs: load %s: %w", key, err)
	}
	if !ok {
		return defaults, ErrNotFound
	}
	r, err := decode(b, defaults)
	if err != nil {
		return defaults, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return r, nil
}

func (p *Prefs) Save(ctx context.Context, key string, r Record) error {
	b, err := encode(r)
	if err != nil {
		return err
	}
	if err := p.st.Put(ctx, key, b); err != nil {
		return fmt.Errorf("prefs: save %s: %w", key, err)
	}
	return nil
}

func (p *Prefs) Erase(ctx context.Context, key string) error {
	if err := p.st.Delete(ctx, key); err != nil {
		return fmt.Errorf("prefs: erase %s: %w", key, err)
	}
	return nil
}
