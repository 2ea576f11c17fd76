package events

import (
	"sort"

	"github.com/shopspring/decimal"
)

func formatAmount(v decimal.Decimal) string {
	return v.String()
}

func sortedKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
