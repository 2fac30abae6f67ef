package ingest

import (
	"fmt"
	"strings"
)

// ParseTags turns repeated key=value strings into document metadata.
func ParseTags(tags []string) (map[string]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		k, v, ok := strings.Cut(tag, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: invalid tag %q, expected key=value", ErrInvalidRequest, tag)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
