package util

import "strings"

// Join composes a flat storage key for engines without native partitions.
// Segments are joined with ':'; callers must not pass segments containing
// the separator in positions that need to be split back.
func Join(segments ...string) string {
	return strings.Join(segments, ":")
}
