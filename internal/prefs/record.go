// Package prefs persists per-schedule state records in a storage.Store.
//
// Records are small, written often, and must survive torn writes: every value
// carries a magic byte, a format version and a checksum, and anything that
// fails validation reads back as ErrNotFound.
package prefs

import (
	"encoding/hex"
	"errors"
	"hash/fnv"
)

var (
	ErrNotFound = errors.New("prefs: record not found")
	ErrCorrupt  = errors.New("prefs: record corrupt")
)

// MaxCrontabLen bounds the crontab text, matching the UI text field.
const MaxCrontabLen = 255

// Record is the persisted state of one schedule.
type Record struct {
	Crontab      string
	Bypass       bool
	IgnoreMissed bool
	LastFired    uint64 // epoch seconds, 0 = never
	Generation   uint64 // clear-prefs generation that last wrote the record
}

// Key derives the storage key for a schedule id: "H" + hex FNV-64a, cut to
// 15 characters so it fits an NVS namespace.
func Key(id string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	k := "H" + hex.EncodeToString(h.Sum(nil))
	if len(k) > 15 {
		k = k[:15]
	}
	return k
}
