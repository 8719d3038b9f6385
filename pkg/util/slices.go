package util

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func SortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)

	return keys
}
