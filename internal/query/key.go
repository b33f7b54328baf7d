package query

import (
	"encoding/json"
	"fmt"
)

// Key identifies a cached resource: a resource name followed by its
// parameters, e.g. Key{"posts", 3}. Elements must be JSON-encodable
// primitives.
type Key []any

// String returns the canonical form of the key, its JSON encoding.
func (k Key) String() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprint([]any(k))
	}
	return string(b)
}

// Resource returns the first element of the key as a string.
func (k Key) Resource() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// HasPrefix reports whether every element of prefix equals the element of k
// at the same position. Elements compare by printed value so that a key
// decoded from JSON (float64 numbers) still matches its int original.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if fmt.Sprint(k[i]) != fmt.Sprint(prefix[i]) {
			return false
		}
	}
	return true
}

// ParseKey decodes the canonical form produced by String.
func ParseKey(s string) (Key, error) {
	var parts []any
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return nil, fmt.Errorf("query: parse key %q: %w", s, err)
	}
	return Key(parts), nil
}
