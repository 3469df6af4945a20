package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DaysPerMonth is the fixed month length used for tenure conversion.
	DaysPerMonth = 30
	// LifetimeDays is the sentinel duration of a "lifetime" tenure.
	LifetimeDays = 36500
	// maxTenureMonths bounds month counts so a typo cannot expand into thousands of choices.
	maxTenureMonths = LifetimeDays / DaysPerMonth
)

// TenureKind identifies the shape of a tenure specification.
type TenureKind string

const (
	TenureFixedDays   TenureKind = "days"
	TenureFixedMonths TenureKind = "months"
	TenureMonthRange  TenureKind = "month_range"
	TenureLifetime    TenureKind = "lifetime"
)

// TenureSpec is a parsed tenure specification. From and To are inclusive;
// for fixed shapes From == To.
type TenureSpec struct {
	Kind TenureKind
	From int
	To   int
}

// TenureChoice is one selectable rental duration.
type TenureChoice struct {
	Label string `json:"label"`
	Days  int    `json:"days"`
}

var (
	tenureDaysRe   = regexp.MustCompile(`^(\d+)\s*(?:d|day|days)$`)
	tenureMonthsRe = regexp.MustCompile(`^(\d+)\s*(?:m|mo|month|months)$`)
	tenureRangeRe  = regexp.MustCompile(`^(\d+)\s*(?:-|–|—)\s*(\d+)\s*(?:m|mo|month|months)$`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// ParseTenure parses spec into a TenureSpec. Matching is case-insensitive and
// tolerant of surrounding and repeated whitespace.
func ParseTenure(spec string) (TenureSpec, error) {
	s := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(spec)), " ")
	if s == "" {
		return TenureSpec{}, fmt.Errorf("%w: empty", ErrInvalidSpec)
	}

	if s == "lifetime" {
		return TenureSpec{Kind: TenureLifetime, From: 1, To: 1}, nil
	}

	if m := tenureRangeRe.FindStringSubmatch(s); m != nil {
		from, err := parseTenureCount(m[1], maxTenureMonths)
		if err != nil {
			return TenureSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, spec, err)
		}
		to, err := parseTenureCount(m[2], maxTenureMonths)
		if err != nil {
			return TenureSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, spec, err)
		}
		if from > to {
			return TenureSpec{}, fmt.Errorf("%w: %q: range start exceeds end", ErrInvalidSpec, spec)
		}
		return TenureSpec{Kind: TenureMonthRange, From: from, To: to}, nil
	}

	if m := tenureMonthsRe.FindStringSubmatch(s); m != nil {
		n, err := parseTenureCount(m[1], maxTenureMonths)
		if err != nil {
			return TenureSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, spec, err)
		}
		return TenureSpec{Kind: TenureFixedMonths, From: n, To: n}, nil
	}

	if m := tenureDaysRe.FindStringSubmatch(s); m != nil {
		n, err := parseTenureCount(m[1], LifetimeDays)
		if err != nil {
			return TenureSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, spec, err)
		}
		return TenureSpec{Kind: TenureFixedDays, From: n, To: n}, nil
	}

	return TenureSpec{}, fmt.Errorf("%w: %q", ErrInvalidSpec, spec)
}

func parseTenureCount(raw string, max int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad count %q", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("count must be positive")
	}
	if n > max {
		return 0, fmt.Errorf("count %d exceeds %d", n, max)
	}
	return n, nil
}

// Choices returns the ordered duration choices described by the spec.
func (t TenureSpec) Choices() []TenureChoice {
	switch t.Kind {
	case TenureLifetime:
		return []TenureChoice{{Label: "lifetime", Days: LifetimeDays}}
	case TenureFixedDays:
		return []TenureChoice{{Label: pluralize(t.From, "day"), Days: t.From}}
	case TenureFixedMonths, TenureMonthRange:
		choices := make([]TenureChoice, 0, t.To-t.From+1)
		for n := t.From; n <= t.To; n++ {
			choices = append(choices, TenureChoice{Label: pluralize(n, "month"), Days: n * DaysPerMonth})
		}
		return choices
	}
	return nil
}

// ExpandTenure parses spec and returns its choices.
func ExpandTenure(spec string) ([]TenureChoice, error) {
	t, err := ParseTenure(spec)
	if err != nil {
		return nil, err
	}
	return t.Choices(), nil
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
