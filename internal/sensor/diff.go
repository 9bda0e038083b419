package sensor

import "sort"

// Diff compares a previous key snapshot against the current listing and
// returns the keys seen for the first time, plus the snapshot to persist
// once those keys have been handed off. Removed keys fall out of the
// snapshot silently; a key that disappears and reappears fires again.
func Diff(previous, current []string) (newKeys, next []string) {
	seen := make(map[string]struct{}, len(previous))
	for _, k := range previous {
		seen[k] = struct{}{}
	}

	next = make([]string, len(current))
	copy(next, current)
	sort.Strings(next)

	for _, k := range next {
		if _, ok := seen[k]; !ok {
			newKeys = append(newKeys, k)
		}
	}
	return newKeys, next
}
