package confparse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExpandRange flattens an IOS vlan list like "10,20-30,40" into a sorted set.
// The keywords none and all both yield the empty set (all means unconstrained).
// An inverted range such as 15-12 is invalid and contributes nothing. Ids
// outside 1..4094 are clamped away. Every oddity comes back as a warning.
func ExpandRange(spec string) ([]int, []string) {
	var warnings []string
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "none" || spec == "all" {
		return nil, nil
	}

	seen := map[int]bool{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, ok := parseBounds(part)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("invalid vlan range %q", part))
			continue
		}
		for v := lo; v <= hi; v++ {
			if v < 1 || v > 4094 {
				warnings = append(warnings, fmt.Sprintf("vlan %d outside 1..4094", v))
				continue
			}
			seen[v] = true
		}
	}

	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, warnings
}

func parseBounds(part string) (lo, hi int, ok bool) {
	if i := strings.IndexByte(part, '-'); i >= 0 {
		a, errA := strconv.Atoi(strings.TrimSpace(part[:i]))
		b, errB := strconv.Atoi(strings.TrimSpace(part[i+1:]))
		if errA != nil || errB != nil || a > b {
			return 0, 0, false
		}
		return a, b, true
	}
	v, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, false
	}
	return v, v, true
}

// mergeSets unions b into a and returns the sorted result.
func mergeSets(a, b []int) []int {
	seen := map[int]bool{}
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		seen[v] = true
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// subtractSet removes every element of b from a.
func subtractSet(a, b []int) []int {
	drop := map[int]bool{}
	for _, v := range b {
		drop[v] = true
	}
	var out []int
	for _, v := range a {
		if !drop[v] {
			out = append(out, v)
		}
	}
	return out
}
