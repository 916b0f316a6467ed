// Package filter implements the pure functions behind the address block view:
// deriving selector values and narrowing the record list by a Filter.
package filter

import (
	"slices"
	"strings"

	"github.com/dukerupert/ipranges/internal/domain"
)

// AvailableValues collects, for every filterable field, the distinct values
// present in records sorted ascending. Callers pass the full record list so
// selector options never shrink as the filter narrows.
func AvailableValues(records []domain.Prefix) domain.AvailableValues {
	out := make(domain.AvailableValues, len(domain.Fields))
	for _, f := range domain.Fields {
		seen := make(map[string]struct{})
		values := make([]string, 0)
		for _, r := range records {
			v := r.Value(f)
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
		slices.Sort(values)
		out[f] = values
	}
	return out
}

// Matches reports whether record satisfies every non-empty field of criteria.
// Comparison is exact and case-sensitive.
func Matches(criteria domain.Filter, record domain.Prefix) bool {
	for _, f := range domain.Fields {
		want := criteria.Value(f)
		if want != "" && record.Value(f) != want {
			return false
		}
	}
	return true
}

// Apply returns the records matching criteria in their original order.
// The input slice is never modified.
func Apply(criteria domain.Filter, records []domain.Prefix) []domain.Prefix {
	out := make([]domain.Prefix, 0, len(records))
	for _, r := range records {
		if Matches(criteria, r) {
			out = append(out, r)
		}
	}
	return out
}

// IPPrefixes extracts the ip_prefix of each record, keeping order.
func IPPrefixes(records []domain.Prefix) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.IPPrefix
	}
	return out
}

// ClipboardText is the copy payload: one ip_prefix per line in list order,
// with no trailing newline.
func ClipboardText(records []domain.Prefix) string {
	return strings.Join(IPPrefixes(records), "\n")
}
