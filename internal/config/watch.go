package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "dyncron/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	watchDebounce      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// WatchFile calls onChange (debounced) whenever path is written, created,
// renamed or removed. It watches the parent directory so editors that replace
// the file atomically are handled. When fsnotify breaks, the watcher is
// recreated with jittered exponential backoff. Returns when ctx is done.
func WatchFile(ctx context.Context, path string, log logx.Logger, onChange func()) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	bo := newBackoff()

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("file change detected; scheduling reload", logx.String("path", path))
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			log.Warn("file watch init failed", logx.Err(err), logx.String("dir", dir))
			if !bo.sleep(ctx) {
				return nil
			}
			continue
		}

		bo.reset()
		log.Debug("file watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				// Compare by basename (robust across absolute/relative paths).
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events may have been missed; reload once.
				msg := strings.ToLower(err.Error())
				if strings.Contains(msg, "overflow") {
					log.Warn("file watch overflow; forcing reload", logx.Err(err), logx.String("dir", dir))
					debounce()
					continue
				}
				log.Warn("file watch error", logx.Err(err), logx.String("dir", dir))
				if strings.Contains(msg, "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		log.Warn("file watcher stopped; restarting", logx.String("dir", dir), logx.String("file", file))
		if !bo.sleep(ctx) {
			return nil
		}
	}
}

type backoff struct {
	cur time.Duration
	rng *rand.Rand
}

func newBackoff() *backoff {
	return &backoff{cur: restartBackoffBase, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *backoff) reset() { b.cur = restartBackoffBase }

// sleep waits for the current backoff plus jitter and doubles it. It returns
// false if ctx ended first.
func (b *backoff) sleep(ctx context.Context) bool {
	wait := b.cur + time.Duration(b.rng.Int63n(int64(b.cur/2)+1))
	if b.cur < restartBackoffMax {
		b.cur *= 2
		if b.cur > restartBackoffMax {
			b.cur = restartBackoffMax
		}
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
