package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsatisfiable is returned when no time within the search horizon matches.
var ErrUnsatisfiable = errors.New("cron: no matching time within search horizon")

// ParseError describes a malformed expression. Field is empty when the error
// is about the expression as a whole (e.g. a wrong field count).
type ParseError struct {
	Expr   string
	Field  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cron: %q: %s", e.Expr, e.Reason)
	}
	return fmt.Sprintf("cron: %q: %s field %q: %s", e.Expr, e.Field, e.Value, e.Reason)
}

type bounds struct {
	name     string
	min, max int
	names    map[string]int // upper-case aliases
}

var (
	secondBounds = bounds{name: "second", min: 0, max: 59}
	minuteBounds = bounds{name: "minute", min: 0, max: 59}
	hourBounds   = bounds{name: "hour", min: 0, max: 23}
	domBounds    = bounds{name: "day-of-month", min: 1, max: 31}
	monthBounds  = bounds{name: "month", min: 1, max: 12, names: map[string]int{
		"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
		"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
	}}
	dowBounds = bounds{name: "day-of-week", min: 0, max: 6, names: map[string]int{
		"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
	}}
)

// field is the set of allowed values of one cron field.
// star records that the field was written unrestricted ("*", "?" or "*/1"),
// which matters for the day-of-month/day-of-week combination rule.
type field struct {
	bits uint64
	star bool
}

func (f field) has(v int) bool { return f.bits&(1<<uint(v)) != 0 }

// Parse parses a cron expression.
//
// Accepted layouts:
//   - "min hour dom month dow" (seconds fixed at 0)
//   - "sec min hour dom month dow"
//
// Several alternatives may be joined with "|"; the result matches whenever
// any of them does.
func Parse(text string) (*Expression, error) {
	parts := strings.Split(text, "|")
	e := &Expression{text: strings.TrimSpace(text)}
	for _, p := range parts {
		s, err := parseSpec(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		e.specs = append(e.specs, s)
	}
	return e, nil
}

// Validate reports whether text parses.
func Validate(text string) error {
	_, err := Parse(text)
	return err
}

func parseSpec(expr string) (spec, error) {
	fields := strings.Fields(expr)
	var raw [6]string
	switch len(fields) {
	case 5:
		raw[0] = "0"
		copy(raw[1:], fields)
	case 6:
		copy(raw[:], fields)
	default:
		return spec{}, &ParseError{Expr: expr, Reason: fmt.Sprintf("expected 5 or 6 fields, got %d", len(fields))}
	}

	var s spec
	var err error
	out := []*field{&s.second, &s.minute, &s.hour, &s.dom, &s.month, &s.dow}
	bs := []bounds{secondBounds, minuteBounds, hourBounds, domBounds, monthBounds, dowBounds}
	for i := range raw {
		*out[i], err = parseField(raw[i], bs[i])
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Expr = expr
			}
			return spec{}, err
		}
	}
	return s, nil
}

// parseField parses a comma-separated list of ranges.
func parseField(text string, b bounds) (field, error) {
	var f field
	for _, item := range strings.Split(text, ",") {
		bits, star, err := parseRange(item, b)
		if err != nil {
			return field{}, &ParseError{Field: b.name, Value: text, Reason: err.Error()}
		}
		f.bits |= bits
		f.star = f.star || star
	}
	if f.bits == 0 {
		return field{}, &ParseError{Field: b.name, Value: text, Reason: "no values"}
	}
	return f, nil
}

// parseRange handles "*", "?", "N", "N-M" and any of these with "/step".
// "N/step" means N through the field maximum.
func parseRange(item string, b bounds) (uint64, bool, error) {
	if item == "" {
		return 0, false, errors.New("empty list item")
	}
	rangeAndStep := strings.Split(item, "/")
	if len(rangeAndStep) > 2 {
		return 0, false, errors.New("too many slashes")
	}
	lowAndHigh := strings.Split(rangeAndStep[0], "-")
	if len(lowAndHigh) > 2 {
		return 0, false, errors.New("too many hyphens")
	}

	var (
		start, end int
		star       bool
		err        error
	)
	if lowAndHigh[0] == "*" || lowAndHigh[0] == "?" {
		if len(lowAndHigh) != 1 {
			return 0, false, errors.New("wildcard cannot start a range")
		}
		start, end, star = b.min, b.max, true
	} else {
		start, err = parseValue(lowAndHigh[0], b)
		if err != nil {
			return 0, false, err
		}
		end = start
		if len(lowAndHigh) == 2 {
			end, err = parseValue(lowAndHigh[1], b)
			if err != nil {
				return 0, false, err
			}
		}
	}

	step := 1
	if len(rangeAndStep) == 2 {
		step, err = atoi(rangeAndStep[1])
		if err != nil {
			return 0, false, fmt.Errorf("invalid step %q", rangeAndStep[1])
		}
		if step <= 0 {
			return 0, false, fmt.Errorf("step must be positive, got %d", step)
		}
		if !star && len(lowAndHigh) == 1 {
			end = b.max
		}
		if step > 1 {
			star = false
		}
	}

	if start > end {
		return 0, false, fmt.Errorf("range start %d is beyond end %d", start, end)
	}

	var bits uint64
	for v := start; v <= end; v += step {
		bits |= 1 << uint(v)
	}
	return bits, star, nil
}

// parseValue resolves a number or, for month and day-of-week, a
// case-insensitive three-letter name.
func parseValue(s string, b bounds) (int, error) {
	if v, ok := b.names[strings.ToUpper(s)]; ok {
		return v, nil
	}
	v, err := atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, b.min, b.max)
	}
	return v, nil
}

// atoi accepts plain decimal digits only; strconv.Atoi would also take a sign.
func atoi(s string) (int, error) {
	if s == "" || len(s) > 4 {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
