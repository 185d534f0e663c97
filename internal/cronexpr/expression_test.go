package cronexpr

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/go-cmp/cmp"
	"github.com/robfig/cron/v3"
)

func utc(y int, m time.Month, d, hh, mm, ss int) int64 {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC).Unix()
}

func mustParse(t *testing.T, text string) *Expression {
	t.Helper()
	e, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return e
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		field string
	}{
		{name: "empty", text: ""},
		{name: "too few fields", text: "* * * *"},
		{name: "too many fields", text: "0 * * * * * *"},
		{name: "minute range", text: "60 * * * *", field: "minute"},
		{name: "hour range", text: "0 24 * * *", field: "hour"},
		{name: "dom zero", text: "0 0 0 * *", field: "day-of-month"},
		{name: "dom range", text: "0 0 32 * *", field: "day-of-month"},
		{name: "month zero", text: "0 0 * 0 *", field: "month"},
		{name: "month range", text: "0 0 * 13 *", field: "month"},
		{name: "dow seven", text: "0 0 * * 7", field: "day-of-week"},
		{name: "second range", text: "61 0 0 * * *", field: "second"},
		{name: "reversed range", text: "30-10 * * * *", field: "minute"},
		{name: "zero step", text: "*/0 * * * *", field: "minute"},
		{name: "bad step", text: "*/x * * * *", field: "minute"},
		{name: "double slash", text: "*/2/3 * * * *", field: "minute"},
		{name: "empty list item", text: "1,,2 * * * *", field: "minute"},
		{name: "signed value", text: "+5 * * * *", field: "minute"},
		{name: "wildcard range", text: "*-5 * * * *", field: "minute"},
		{name: "junk", text: "a b c d e", field: "minute"},
		{name: "month name in dow", text: "0 0 * * JAN", field: "day-of-week"},
		{name: "dow name in month", text: "0 0 * MON *", field: "month"},
		{name: "long name", text: "0 0 * * MONDAY", field: "day-of-week"},
		{name: "bad alternative", text: "0 0 * * * | 0 0 * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.text)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse(%q) error = %v, want *ParseError", tt.text, err)
			}
			if pe.Field != tt.field {
				t.Fatalf("Parse(%q) field = %q, want %q (err: %v)", tt.text, pe.Field, tt.field, err)
			}
		})
	}
}

func TestParseAccepts(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"* * * * *",
		"0 0 0 * * *",
		"*/5 * * * *",
		"0-30/10 8-18 * * 1-5",
		"5/15 * * * *",
		"0 0 ? * 0",
		"0 0 1,15 * *",
		"  0   12 * * *  ",
		"0 0 * * * | 30 12 * * 6",
		"0 0 8 * * MON-FRI",
		"0 0 0 1 JAN *",
		"0 8 * * SUN",
		"0 8 * jun-aug sat,Sun",
	} {
		if err := Validate(text); err != nil {
			t.Errorf("Validate(%q): %v", text, err)
		}
	}
}

func TestMatchesTruthTable(t *testing.T) {
	t.Parallel()
	// 2024-01-01 is a Monday, 2024-02-01 a Thursday.
	tests := []struct {
		expr string
		at   int64
		want bool
	}{
		{"* * * * *", utc(2024, 2, 1, 13, 7, 0), true},
		{"* * * * *", utc(2024, 2, 1, 13, 7, 1), false},
		{"30 * * * * *", utc(2024, 2, 1, 13, 7, 30), true},
		{"7 13 * * *", utc(2024, 2, 1, 13, 7, 0), true},
		{"7 13 * * *", utc(2024, 2, 1, 13, 8, 0), false},
		{"7 14 * * *", utc(2024, 2, 1, 13, 7, 0), false},
		{"0 0 15 * *", utc(2024, 3, 15, 0, 0, 0), true},
		{"0 0 15 * *", utc(2024, 3, 16, 0, 0, 0), false},
		{"0 0 * 3 *", utc(2024, 3, 9, 0, 0, 0), true},
		{"0 0 * 3 *", utc(2024, 4, 9, 0, 0, 0), false},
		{"0 0 * * 4", utc(2024, 2, 1, 0, 0, 0), true},
		{"0 0 * * 5", utc(2024, 2, 1, 0, 0, 0), false},
		{"*/15 * * * *", utc(2024, 2, 1, 9, 45, 0), true},
		{"*/15 * * * *", utc(2024, 2, 1, 9, 50, 0), false},
		{"0-30/10 8-18 * * 1-5", utc(2024, 2, 5, 8, 20, 0), true},
		{"0-30/10 8-18 * * 1-5", utc(2024, 2, 5, 8, 40, 0), false},
		{"0-30/10 8-18 * * 1-5", utc(2024, 2, 4, 8, 20, 0), false},
		// both day fields restricted: OR
		{"0 0 1 * 1", utc(2024, 2, 1, 0, 0, 0), true},
		{"0 0 1 * 1", utc(2024, 2, 5, 0, 0, 0), true},
		{"0 0 1 * 1", utc(2024, 2, 6, 0, 0, 0), false},
		{"0 0 1 * 1", utc(2024, 2, 5, 0, 1, 0), false},
		// only one restricted: that one decides
		{"0 0 1 * *", utc(2024, 2, 5, 0, 0, 0), false},
		{"0 0 * * 1", utc(2024, 2, 1, 0, 0, 0), false},
		{"0 0 ? * 1", utc(2024, 2, 5, 0, 0, 0), true},
		{"0 0 */1 * 1", utc(2024, 2, 6, 0, 0, 0), false},
		// stepped day-of-month counts as restricted
		{"0 0 */2 * 1", utc(2024, 2, 12, 0, 0, 0), true},
		// month and weekday names
		{"0 0 * * MON-FRI", utc(2024, 2, 2, 0, 0, 0), true},
		{"0 0 * * MON-FRI", utc(2024, 2, 3, 0, 0, 0), false},
		{"0 0 * * sun", utc(2024, 2, 4, 0, 0, 0), true},
		{"0 0 1 JAN *", utc(2024, 1, 1, 0, 0, 0), true},
		{"0 0 1 JAN *", utc(2024, 2, 1, 0, 0, 0), false},
		// alternatives
		{"0 0 * * * | 30 12 * * 6", utc(2024, 2, 3, 12, 30, 0), true},
		{"0 0 * * * | 30 12 * * 6", utc(2024, 2, 4, 12, 30, 0), false},
	}
	for _, tt := range tests {
		e := mustParse(t, tt.expr)
		if got := e.Matches(tt.at); got != tt.want {
			t.Errorf("%q.Matches(%s) = %v, want %v", tt.expr, time.Unix(tt.at, 0).UTC(), got, tt.want)
		}
	}
}

func TestNextAfterKnown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		from int64
		want int64
	}{
		{"0 0 0 * * *", utc(2024, 2, 1, 0, 0, 0), utc(2024, 2, 2, 0, 0, 0)},
		{"0 0 0 * * *", utc(2024, 2, 1, 23, 59, 59), utc(2024, 2, 2, 0, 0, 0)},
		{"*/5 * * * *", utc(2024, 2, 1, 10, 2, 17), utc(2024, 2, 1, 10, 5, 0)},
		{"0 0 29 2 *", utc(2024, 3, 1, 0, 0, 0), utc(2028, 2, 29, 0, 0, 0)},
		{"0 0 1 * 1", utc(2024, 2, 1, 0, 0, 0), utc(2024, 2, 5, 0, 0, 0)},
		{"0 0 31 * *", utc(2024, 4, 1, 0, 0, 0), utc(2024, 5, 31, 0, 0, 0)},
		{"59 59 23 31 12 *", utc(2024, 6, 1, 0, 0, 0), utc(2024, 12, 31, 23, 59, 59)},
		{"0 0 * * * | 30 12 * * 6", utc(2024, 2, 3, 1, 0, 0), utc(2024, 2, 3, 12, 30, 0)},
	}
	for _, tt := range tests {
		got, err := mustParse(t, tt.expr).NextAfter(tt.from)
		if err != nil {
			t.Fatalf("%q.NextAfter: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("%q.NextAfter(%s) = %s, want %s", tt.expr,
				time.Unix(tt.from, 0).UTC(), time.Unix(got, 0).UTC(), time.Unix(tt.want, 0).UTC())
		}
	}
}

func TestUnsatisfiable(t *testing.T) {
	t.Parallel()
	e := mustParse(t, "0 0 30 2 *")
	if _, err := e.NextAfter(utc(2024, 1, 1, 0, 0, 0)); !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("NextAfter error = %v, want ErrUnsatisfiable", err)
	}
	if _, err := e.PrevAtOrBefore(utc(2024, 1, 1, 0, 0, 0)); !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("PrevAtOrBefore error = %v, want ErrUnsatisfiable", err)
	}
	if got := e.NextN(utc(2024, 1, 1, 0, 0, 0), 3); len(got) != 0 {
		t.Fatalf("NextN = %v, want empty", got)
	}
}

var referenceExprs = []string{
	"* * * * *",
	"*/7 * * * *",
	"0 */3 * * *",
	"15 4 * * *",
	"0 0 1 * *",
	"0 0 * * 0",
	"0 0 1 * 1",
	"0 12 13 * 5",
	"30 8-17/2 * * 1-5",
	"0 0 29 2 *",
	"5,35 0 1,15 6-8 *",
	"0 0 31 * 2",
	"*/20 */10 * * * *",
	"0 30 6 * * 6",
	"45 59 23 28-31 * *",
}

// TestNextAfterMatchesReference cross-checks against robfig/cron, which uses
// the same day-of-month/day-of-week convention.
func TestNextAfterMatchesReference(t *testing.T) {
	t.Parallel()
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	rng := rand.New(rand.NewSource(42))
	base := utc(2023, 1, 1, 0, 0, 0)

	for _, text := range referenceExprs {
		e := mustParse(t, text)
		ref, err := parser.Parse("CRON_TZ=UTC " + text)
		if err != nil {
			t.Fatalf("reference parse %q: %v", text, err)
		}
		for i := 0; i < 200; i++ {
			from := base + rng.Int63n(3*365*24*3600)
			got, err := e.NextAfter(from)
			if err != nil {
				t.Fatalf("%q.NextAfter(%d): %v", text, from, err)
			}
			want := ref.Next(time.Unix(from, 0).UTC()).Unix()
			if got != want {
				t.Fatalf("%q.NextAfter(%s) = %s, reference %s", text,
					time.Unix(from, 0).UTC(), time.Unix(got, 0).UTC(), time.Unix(want, 0).UTC())
			}
			if got <= from {
				t.Fatalf("%q.NextAfter(%d) = %d, not strictly after", text, from, got)
			}
			if !e.Matches(got) {
				t.Fatalf("%q.Matches(NextAfter(%d)) = false", text, from)
			}
		}
	}
}

func TestNamesMatchNumbers(t *testing.T) {
	t.Parallel()
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	tests := []struct{ named, numeric string }{
		{"0 0 8 * * MON-FRI", "0 0 8 * * 1-5"},
		{"0 0 0 1 JAN *", "0 0 0 1 1 *"},
		{"0 8 * * SUN", "0 8 * * 0"},
		{"30 6 * mar-oct/2 tue,Thu", "30 6 * 3-10/2 2,4"},
	}
	rng := rand.New(rand.NewSource(3))
	for _, tt := range tests {
		named, numeric := mustParse(t, tt.named), mustParse(t, tt.numeric)
		ref, err := parser.Parse("CRON_TZ=UTC " + tt.named)
		if err != nil {
			t.Fatalf("reference parse %q: %v", tt.named, err)
		}
		for i := 0; i < 100; i++ {
			from := utc(2023, 1, 1, 0, 0, 0) + rng.Int63n(2*365*24*3600)
			got, err := named.NextAfter(from)
			if err != nil {
				t.Fatalf("%q.NextAfter(%d): %v", tt.named, from, err)
			}
			if want, _ := numeric.NextAfter(from); got != want {
				t.Fatalf("%q.NextAfter(%d) = %d, %q gives %d", tt.named, from, got, tt.numeric, want)
			}
			if want := ref.Next(time.Unix(from, 0).UTC()).Unix(); got != want {
				t.Fatalf("%q.NextAfter(%d) = %d, reference %d", tt.named, from, got, want)
			}
		}
	}
}

func TestNextAfterIsMinimal(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for _, text := range []string{"* * * * *", "*/7 * * * *", "*/20 */10 * * * *", "0 */3 * * *"} {
		e := mustParse(t, text)
		for i := 0; i < 20; i++ {
			from := utc(2024, 1, 1, 0, 0, 0) + rng.Int63n(30*24*3600)
			next, err := e.NextAfter(from)
			if err != nil {
				t.Fatal(err)
			}
			for s := from + 1; s < next; s++ {
				if e.Matches(s) {
					t.Fatalf("%q: %d matches but NextAfter(%d) = %d", text, s, from, next)
				}
			}
		}
	}
}

func TestPrevAtOrBefore(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(99))
	for _, text := range referenceExprs {
		e := mustParse(t, text)
		for i := 0; i < 200; i++ {
			at := utc(2023, 1, 1, 0, 0, 0) + rng.Int63n(3*365*24*3600)
			prev, err := e.PrevAtOrBefore(at)
			if err != nil {
				t.Fatalf("%q.PrevAtOrBefore(%d): %v", text, at, err)
			}
			if prev > at || !e.Matches(prev) {
				t.Fatalf("%q.PrevAtOrBefore(%d) = %d: not a match at or before", text, at, prev)
			}
			next, err := e.NextAfter(prev)
			if err != nil {
				t.Fatal(err)
			}
			if next <= at {
				t.Fatalf("%q: %d matches between PrevAtOrBefore(%d) = %d and %d", text, next, at, prev, at)
			}
		}
	}

	e := mustParse(t, "0 0 * * *")
	at := utc(2024, 2, 1, 0, 0, 0)
	if got, _ := e.PrevAtOrBefore(at); got != at {
		t.Fatalf("PrevAtOrBefore on a match = %d, want %d", got, at)
	}
}

// TestPrevAtOrBeforeGronx compares minute-resolution expressions with a single
// restricted day field against gronx. Reference times sit off the due minutes.
func TestPrevAtOrBeforeGronx(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"*/15 * * * *", "0 3 * * *", "30 6 * * 1", "0 0 1 * *", "0 12 * 6 *"} {
		e := mustParse(t, text)
		for _, at := range []int64{
			utc(2024, 2, 1, 10, 7, 30),
			utc(2024, 7, 4, 3, 1, 30),
			utc(2024, 12, 31, 23, 59, 30),
		} {
			got, err := e.PrevAtOrBefore(at)
			if err != nil {
				t.Fatal(err)
			}
			want, err := gronx.PrevTickBefore(text, time.Unix(at, 0).UTC(), true)
			if err != nil {
				t.Fatalf("gronx %q: %v", text, err)
			}
			if got != want.Truncate(time.Minute).Unix() {
				t.Errorf("%q.PrevAtOrBefore(%s) = %s, gronx %s", text,
					time.Unix(at, 0).UTC(), time.Unix(got, 0).UTC(), want.UTC())
			}
		}
	}
}

func TestNextN(t *testing.T) {
	t.Parallel()
	e := mustParse(t, "0 */6 * * *")
	got := e.NextN(utc(2024, 2, 1, 1, 0, 0), 4)
	want := []int64{
		utc(2024, 2, 1, 6, 0, 0),
		utc(2024, 2, 1, 12, 0, 0),
		utc(2024, 2, 1, 18, 0, 0),
		utc(2024, 2, 2, 0, 0, 0),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("NextN -want +got\n%s", diff)
	}
}
