package ftlmem

import (
	"unicode/utf8"
)

// StringTable resolves string ids from the other segments into strings.  By
// convention id 0 always resolves to the empty string.  Lookups of
// out-of-range ids or damaged entries report ok == false instead of failing:
// corrupted resolver data is tolerated, not fatal.
type StringTable interface {
	Get(id int) (s string, ok bool)
}

// blobStrings is the production string table: the raw strings segment, a
// blob of NUL-terminated strings addressed by byte offset.
type blobStrings struct {
	data []byte
}

// type check
var _ StringTable = blobStrings{}

// Get implements the [StringTable] interface for blobStrings.
func (bs blobStrings) Get(id int) (s string, ok bool) {
	if id < 0 || id >= len(bs.data) {
		return "", false
	}

	end := id
	for end < len(bs.data) && bs.data[end] != 0 {
		end++
	}

	if end == len(bs.data) {
		// Unterminated tail, most likely a torn write.
		return "", false
	}

	s = string(bs.data[id:end])
	if !utf8.ValidString(s) {
		return "", false
	}

	return s, true
}

// mapStrings is the fixture string table used by [TestMemory].  Id 0 still
// resolves to the empty string even when absent from the map.
type mapStrings map[int]string

// type check
var _ StringTable = mapStrings(nil)

// Get implements the [StringTable] interface for mapStrings.
func (ms mapStrings) Get(id int) (s string, ok bool) {
	if id == 0 {
		return "", true
	}

	s, ok = ms[id]

	return s, ok
}
