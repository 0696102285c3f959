package chunk

import (
	"strings"
	"unicode/utf8"
)

// Sanitize strips lone UTF-16 surrogate halves and invalid UTF-8 bytes
// from s. Valid surrogate pairs arrive as single code points in Go
// strings and pass through untouched.
func Sanitize(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, utf8.RuneError) {
		// Fast path: nothing to strip unless surrogate code points are
		// present, which only survive in invalid encodings.
		clean := true
		for _, r := range s {
			if r >= 0xD800 && r <= 0xDFFF {
				clean = false
				break
			}
		}
		if clean {
			return s
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r >= 0xD800 && r <= 0xDFFF {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}
