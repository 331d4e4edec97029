package urlgen

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const dateInputLayout = "2006-01-02"

var dateTokens = strings.NewReplacer("YYYY", "2006", "YY", "06", "MM", "01", "DD", "02")

// intCount returns how many values intRange would produce.
func intCount(start, end, step int) (int, error) {
	if step == 0 {
		return 0, fmt.Errorf("step must not be zero")
	}
	if (step > 0 && start > end) || (step < 0 && start < end) {
		return 1, nil
	}
	span, stride := uint64(end)-uint64(start), uint64(step)
	if step < 0 {
		span, stride = uint64(start)-uint64(end), -uint64(step)
	}
	n := span/stride + 1
	if n == 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("range from %d to %d by %d is too large", start, end, step)
	}
	return int(n), nil
}

// intRange walks from start towards end by step, inclusive of end when it is
// hit exactly. A step pointing away from end yields only start.
func intRange(start, end, step, limit int) ([]int, error) {
	n, err := intCount(start, end, step)
	if err != nil {
		return nil, err
	}
	if limit > 0 && n > limit {
		return nil, fmt.Errorf("%d values exceed the expansion limit of %d", n, limit)
	}
	values := make([]int, 0, n)
	for i, cur := 0, start; i < n; i, cur = i+1, cur+step {
		values = append(values, cur)
	}
	return values, nil
}

// dateLayout converts YYYY/YY/MM/DD tokens into a Go layout. Formats without
// tokens are assumed to already be Go layouts.
func dateLayout(format string) string {
	if format == "" {
		return dateInputLayout
	}
	return dateTokens.Replace(format)
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(dateInputLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}

// dateRange formats every date from start to end inclusive.
func dateRange(block DateBlock, limit int) ([]string, error) {
	if block.Start == "" {
		return nil, fmt.Errorf("start date is required")
	}
	if block.End == "" {
		return nil, fmt.Errorf("end date is required")
	}
	start, err := parseDate(block.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseDate(block.End)
	if err != nil {
		return nil, err
	}
	next, err := dateStepper(block.Granularity)
	if err != nil {
		return nil, err
	}
	layout := dateLayout(block.Format)
	var values []string
	for cur := start; !cur.After(end); cur = next(cur) {
		if limit > 0 && len(values) >= limit {
			return nil, fmt.Errorf("date range exceeds the expansion limit of %d", limit)
		}
		values = append(values, cur.Format(layout))
	}
	return values, nil
}

func dateStepper(granularity string) (func(time.Time) time.Time, error) {
	switch strings.ToLower(granularity) {
	case "", GranularityDay, "daily":
		return func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }, nil
	case GranularityWeek, "weekly":
		return func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }, nil
	case GranularityMonth, "monthly":
		return func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }, nil
	default:
		return nil, fmt.Errorf("unknown granularity %q", granularity)
	}
}

func parseBound(raw, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", name, raw)
	}
	return v, nil
}

func zeroPad(v, width int) string {
	if width <= 0 {
		return strconv.Itoa(v)
	}
	return fmt.Sprintf("%0*d", width, v)
}

// product returns every combination of the given value lists, first list slowest.
func product(lists [][]string) [][]string {
	combos := [][]string{{}}
	for _, list := range lists {
		next := make([][]string, 0, len(combos)*len(list))
		for _, combo := range combos {
			for _, v := range list {
				c := make([]string, len(combo), len(combo)+1)
				copy(c, combo)
				next = append(next, append(c, v))
			}
		}
		combos = next
	}
	return combos
}

func productSize(lists [][]string) int {
	size := 1
	for _, list := range lists {
		if len(list) == 0 {
			return 0
		}
		if size > int(^uint(0)>>1)/len(list) {
			return int(^uint(0) >> 1)
		}
		size *= len(list)
	}
	return size
}
