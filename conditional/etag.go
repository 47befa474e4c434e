package conditional

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

const weakPrefix = "W/"

// Quote wraps a validator in double quotes unless it already is.
func Quote(v string) string {
	if strings.HasPrefix(v, weakPrefix) || strings.HasPrefix(v, `"`) {
		return v
	}
	return `"` + v + `"`
}

// WeakTag builds a weak validator from cheap response metadata,
// avoiding a read of the body.
func WeakTag(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf(`%s"%x"`, weakPrefix, sum[:16])
}

// normalize strips the weak-prefix marker and surrounding quotes so
// strong and weak variants of the same digest compare equal.
func normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, weakPrefix)
	tag = strings.TrimPrefix(tag, strings.ToLower(weakPrefix))
	return strings.Trim(tag, `"`)
}

// Matches reports whether the current validator matches an
// If-None-Match header value. The wildcard matches anything present;
// the header may carry a comma-separated candidate list.
func Matches(current, ifNoneMatch string) bool {
	if current == "" || ifNoneMatch == "" {
		return false
	}
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	want := normalize(current)
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if normalize(candidate) == want {
			return true
		}
	}
	return false
}
