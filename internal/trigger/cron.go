package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is one parsed field of a five-field expression. A nil values
// slice means the field is unrestricted ("*").
type cronField struct {
	values []int
	single bool // exactly one fixed value
}

func (f cronField) restricted() bool { return f.values != nil }

func (f cronField) value() int { return f.values[0] }

func (f cronField) contains(v int) bool {
	for _, x := range f.values {
		if x == v {
			return true
		}
	}
	return false
}

// parseCronField resolves "*", single integers, comma lists and dash ranges
// into an explicit value set. Step syntax is accepted by ValidateCron but not
// expanded here; the evaluator treats it as unrestricted.
func parseCronField(field string, min, max int) (cronField, error) {
	field = strings.TrimSpace(field)
	if field == "*" || strings.HasPrefix(field, "*/") {
		return cronField{}, nil
	}
	var out []int
	for _, part := range strings.Split(field, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("bad range %q", part)
			}
			if a > b || a < min || b > max {
				return cronField{}, fmt.Errorf("range %q outside %d-%d", part, min, max)
			}
			for v := a; v <= b; v++ {
				out = append(out, v)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return cronField{}, fmt.Errorf("bad value %q", part)
		}
		if v < min || v > max {
			return cronField{}, fmt.Errorf("value %d outside %d-%d", v, min, max)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return cronField{}, fmt.Errorf("empty field %q", field)
	}
	return cronField{values: out, single: len(out) == 1}, nil
}

var cronFieldRanges = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ValidateCron checks that expr is exactly five space-separated fields, each
// being "*", an in-range integer, a comma list, a dash range, or "*/step".
// Used to vet AI-produced expressions before trusting them.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}
	for i, f := range fields {
		r := cronFieldRanges[i]
		if f == "*" {
			continue
		}
		if step, ok := strings.CutPrefix(f, "*/"); ok {
			n, err := strconv.Atoi(step)
			if err != nil || n < 1 || n > r.max {
				return fmt.Errorf("cron %q: bad step in %s field %q", expr, r.name, f)
			}
			continue
		}
		if _, err := parseCronField(f, r.min, r.max); err != nil {
			return fmt.Errorf("cron %q: %s field: %w", expr, r.name, err)
		}
	}
	return nil
}

// CalculateNextTrigger returns the next wall-clock occurrence of expr after
// now, evaluated in tz (falling back to UTC when tz is empty or unknown).
//
// This is a forward search, not a full cron engine: it applies fixed
// hour/minute fields, then walks forward day by day to satisfy day-of-week
// and single-value day-of-month restrictions. A day-of-month above 28 that
// crosses a short month stops at the month rollover, approximating the
// target rather than resolving it exactly.
func CalculateNextTrigger(expr, tz string, now time.Time) (time.Time, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return time.Time{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: minute field: %w", expr, err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: hour field: %w", expr, err)
	}
	dom, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: day-of-month field: %w", expr, err)
	}
	if _, err := parseCronField(fields[3], 1, 12); err != nil {
		return time.Time{}, fmt.Errorf("cron %q: month field: %w", expr, err)
	}
	dow, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: day-of-week field: %w", expr, err)
	}

	loc := time.UTC
	if tz != "" {
		if l, lerr := time.LoadLocation(tz); lerr == nil {
			loc = l
		}
	}
	now = now.In(loc)

	h, m := now.Hour(), now.Minute()
	if hour.restricted() {
		h = hour.value()
	}
	if minute.restricted() {
		m = minute.value()
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, loc)

	if !next.After(now) {
		if minute.restricted() && !hour.restricted() {
			// Hourly schedule: the next matching minute boundary.
			next = next.Add(time.Hour)
		} else {
			next = next.AddDate(0, 0, 1)
		}
	}

	if dow.restricted() {
		for i := 0; i < 8 && !dow.contains(int(next.Weekday())); i++ {
			next = next.AddDate(0, 0, 1)
		}
	}

	if dom.restricted() && dom.single {
		target := dom.value()
		startMonth := next.Month()
		for next.Day() != target {
			next = next.AddDate(0, 0, 1)
			// Short months cannot reach days past 28; settle for the
			// rollover day rather than searching forever.
			if target > 28 && next.Month() != startMonth {
				break
			}
		}
	}

	return next, nil
}
