package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// dedupPrefix is how many normalized characters identify a candidate.
const dedupPrefix = 200

// OneOrMany is a text field that upstream stages may deliver either as a
// string or as a list of (often repeated) strings.
type OneOrMany []string

// One wraps a single string.
func One(s string) OneOrMany {
	if s == "" {
		return nil
	}
	return OneOrMany{s}
}

// UnmarshalJSON accepts null, a string or a list of strings.
func (o *OneOrMany) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*o = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = One(s)
		return nil
	case len(data) > 0 && data[0] == '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("text list: %w", err)
		}
		*o = list
		return nil
	}
	return fmt.Errorf("expected string or list of strings, got %s", truncate(string(data), 40))
}

// MarshalJSON writes a single value as a string and anything else as a list.
func (o OneOrMany) MarshalJSON() ([]byte, error) {
	if len(o) == 1 {
		return json.Marshal(o[0])
	}
	if o == nil {
		return []byte("null"), nil
	}
	return json.Marshal([]string(o))
}

// Text joins the distinct non-empty candidates with blank lines. Two
// candidates are the same when their first 200 normalized characters match.
func (o OneOrMany) Text() string {
	seen := make(map[uint64]struct{}, len(o))
	parts := make([]string, 0, len(o))
	for _, s := range o {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := dedupKey(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// Empty reports whether Text would be empty.
func (o OneOrMany) Empty() bool {
	for _, s := range o {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

func dedupKey(s string) uint64 {
	norm := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	h := fnv.New64a()
	h.Write([]byte(truncate(norm, dedupPrefix)))
	return h.Sum64()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
