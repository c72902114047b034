package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSpec wraps every schedule parse failure.
var ErrInvalidSpec = errors.New("invalid schedule")

// FieldKind tags how a single schedule field matches.
type FieldKind uint8

const (
	FieldAny FieldKind = iota
	FieldExact
	FieldRange
)

// Field is one parsed schedule position. Lo and Hi are inclusive; for
// FieldExact they are equal.
type Field struct {
	Kind FieldKind
	Lo   int
	Hi   int
}

func (f Field) match(v int) bool {
	switch f.Kind {
	case FieldAny:
		return true
	case FieldExact:
		return v == f.Lo
	case FieldRange:
		return f.Lo <= v && v <= f.Hi
	}
	return false
}

func (f Field) String() string {
	switch f.Kind {
	case FieldExact:
		return strconv.Itoa(f.Lo)
	case FieldRange:
		return strconv.Itoa(f.Lo) + "-" + strconv.Itoa(f.Hi)
	}
	return "*"
}

// Spec is a parsed five-field schedule. A time matches when every field
// matches; day-of-month and weekday are combined with AND.
type Spec struct {
	Minute  Field
	Hour    Field
	Day     Field
	Month   Field
	Weekday Field
}

type fieldRule struct {
	name       string
	min, max   int
	allowRange bool
}

var fieldRules = [5]fieldRule{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "weekday", min: 0, max: 6, allowRange: true},
}

// ParseSpec parses "minute hour day month weekday". Each field is "*", a
// single integer, or (weekday only) an inclusive range "a-b" with a <= b,
// 0=Sunday..6=Saturday. Ranges do not wrap across the week boundary.
func ParseSpec(expr string) (Spec, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Spec{}, fmt.Errorf("%w %q: want 5 fields (minute hour day month weekday), got %d", ErrInvalidSpec, expr, len(parts))
	}
	var out [5]Field
	for i, raw := range parts {
		f, err := parseField(raw, fieldRules[i])
		if err != nil {
			return Spec{}, fmt.Errorf("%w %q: %v", ErrInvalidSpec, expr, err)
		}
		out[i] = f
	}
	return Spec{Minute: out[0], Hour: out[1], Day: out[2], Month: out[3], Weekday: out[4]}, nil
}

func parseField(raw string, r fieldRule) (Field, error) {
	if raw == "*" {
		return Field{Kind: FieldAny}, nil
	}
	if lo, hi, ok := strings.Cut(raw, "-"); ok {
		if !r.allowRange {
			return Field{}, fmt.Errorf("%s: ranges are only supported for weekday", r.name)
		}
		a, err := parseBounded(lo, r)
		if err != nil {
			return Field{}, err
		}
		b, err := parseBounded(hi, r)
		if err != nil {
			return Field{}, err
		}
		if a > b {
			return Field{}, fmt.Errorf("%s: range %d-%d is reversed (ranges do not wrap)", r.name, a, b)
		}
		return Field{Kind: FieldRange, Lo: a, Hi: b}, nil
	}
	v, err := parseBounded(raw, r)
	if err != nil {
		return Field{}, err
	}
	return Field{Kind: FieldExact, Lo: v, Hi: v}, nil
}

func parseBounded(s string, r fieldRule) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%s: empty value", r.name)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%s: %q is not a number", r.name, s)
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q: %v", r.name, s, err)
	}
	if v < r.min || v > r.max {
		return 0, fmt.Errorf("%s: %d out of range %d-%d", r.name, v, r.min, r.max)
	}
	return v, nil
}

// Matches reports whether t's wall-clock fields (in t's location) match.
func (s Spec) Matches(t time.Time) bool {
	return s.Minute.match(t.Minute()) &&
		s.Hour.match(t.Hour()) &&
		s.Day.match(t.Day()) &&
		s.Month.match(int(t.Month())) &&
		s.Weekday.match(int(t.Weekday()))
}

// nextSearchWindow bounds Next; a spec like "0 0 31 2 *" never matches.
const nextSearchWindow = 366 * 24 * time.Hour

// Next returns the first matching minute strictly after after, in after's
// location, or the zero time if none occurs within a year.
func (s Spec) Next(after time.Time) time.Time {
	loc := after.Location()
	t := after.Truncate(time.Minute).Add(time.Minute)
	end := after.Add(nextSearchWindow)

	for !t.After(end) {
		y, mo, d := t.Date()
		h := t.Hour()
		switch {
		case !s.Month.match(int(mo)):
			t = time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
		case !s.Day.match(d) || !s.Weekday.match(int(t.Weekday())):
			t = time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
		case !s.Hour.match(h):
			t = time.Date(y, mo, d, h+1, 0, 0, 0, loc)
		case !s.Minute.match(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

func (s Spec) String() string {
	return strings.Join([]string{
		s.Minute.String(), s.Hour.String(), s.Day.String(), s.Month.String(), s.Weekday.String(),
	}, " ")
}
