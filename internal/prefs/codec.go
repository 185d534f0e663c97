package prefs

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	magic       = 'D'
	version     = 1
	headerLen   = 2
	checksumLen = 8
)

// wireRecord is the CBOR body. Fields are optional so that a record written by
// an older build overlays only what it knows about.
type wireRecord struct {
	Crontab      *string `cbor:"1,keyasint,omitempty"`
	Bypass       *bool   `cbor:"2,keyasint,omitempty"`
	IgnoreMissed *bool   `cbor:"3,keyasint,omitempty"`
	LastFired    *uint64 `cbor:"4,keyasint,omitempty"`
	Generation   *uint64 `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("prefs: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("prefs: CBOR decoder initialization failed: " + err.Error())
	}
}

// encode serializes r as magic | version | CBOR body | blake3[:8].
func encode(r Record) ([]byte, error) {
	if len(r.Crontab) > MaxCrontabLen {
		return nil, fmt.Errorf("prefs: crontab is %d bytes, max %d", len(r.Crontab), MaxCrontabLen)
	}
	w := wireRecord{
		Crontab:      &r.Crontab,
		Bypass:       &r.Bypass,
		IgnoreMissed: &r.IgnoreMissed,
		LastFired:    &r.LastFired,
		Generation:   &r.Generation,
	}
	body, err := encMode.Marshal(w)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerLen+len(body)+checksumLen)
	out = append(out, magic, version)
	out = append(out, body...)
	sum := blake3.Sum256(out)
	return append(out, sum[:checksumLen]...), nil
}

// decode validates b and overlays the fields it carries onto base.
func decode(b []byte, base Record) (Record, error) {
	if len(b) < headerLen+1+checksumLen {
		return base, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(b))
	}
	if b[0] != magic {
		return base, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, b[0])
	}
	if b[1] != version {
		return base, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, b[1])
	}
	payload, tail := b[:len(b)-checksumLen], b[len(b)-checksumLen:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:checksumLen], tail) {
		return base, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var w wireRecord
	if err := decMode.Unmarshal(payload[headerLen:], &w); err != nil {
		return base, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Crontab != nil {
		if len(*w.Crontab) > MaxCrontabLen || !utf8.ValidString(*w.Crontab) {
			return base, fmt.Errorf("%w: crontab rejected", ErrCorrupt)
		}
	}

	r := base
	if w.Crontab != nil {
		r.Crontab = *w.Crontab
	}
	if w.Bypass != nil {
		r.Bypass = *w.Bypass
	}
	if w.IgnoreMissed != nil {
		r.IgnoreMissed = *w.IgnoreMissed
	}
	if w.LastFired != nil {
		r.LastFired = *w.LastFired
	}
	if w.Generation != nil {
		r.Generation = *w.Generation
	}
	return r, nil
}
