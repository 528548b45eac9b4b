// Package version orders solver version strings by semantic-version
// precedence. Catalog entries come from upstream release tags, so parsing is
// loose: a leading "v", missing minor or patch components and surrounding
// text such as "z3-4.12.1" are coerced instead of rejected.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrEmpty is returned by Max when there is nothing to choose from.
var ErrEmpty = errors.New("no versions to compare")

// ParseError reports a version string that could not be coerced into a
// semantic version.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid version %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid version %q", e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// looseVersion finds the first version-like run that is not glued to a
// preceding letter or digit, so "z3-4.12.1" yields "4.12.1" rather than "3".
var looseVersion = regexp.MustCompile(`(?:^|[^0-9A-Za-z])[vV]?(\d+(?:\.\d+){0,2})(-[0-9A-Za-z.]+)?(\+[0-9A-Za-z.-]+)?`)

// Parse coerces s into a semantic version.
func Parse(s string) (*semver.Version, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, &ParseError{Input: s, Err: errors.New("empty version")}
	}

	v, err := semver.NewVersion(trimmed)
	if err == nil {
		return v, nil
	}

	m := looseVersion.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, &ParseError{Input: s, Err: err}
	}

	coerced, cerr := semver.NewVersion(m[1] + m[2] + m[3])
	if cerr != nil {
		return nil, &ParseError{Input: s, Err: cerr}
	}
	return coerced, nil
}

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to or
// after b. Build metadata does not take part in the ordering.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Less reports whether a is strictly lower than b.
func Less(a, b string) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// Max returns the highest of the given versions. On ties the earliest entry
// wins, so the result is always one of the input strings verbatim.
func Max(versions []string) (string, error) {
	if len(versions) == 0 {
		return "", ErrEmpty
	}

	best := versions[0]
	bestParsed, err := Parse(best)
	if err != nil {
		return "", err
	}

	for _, candidate := range versions[1:] {
		parsed, err := Parse(candidate)
		if err != nil {
			return "", err
		}
		if parsed.GreaterThan(bestParsed) {
			best, bestParsed = candidate, parsed
		}
	}

	return best, nil
}

// Extract returns the version-like part of s, such as "4.12.1" for the
// release tag "z3-4.12.1". It reports false when s holds no version.
func Extract(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if _, err := semver.StrictNewVersion(strings.TrimPrefix(trimmed, "v")); err == nil {
		return strings.TrimPrefix(trimmed, "v"), true
	}
	m := looseVersion.FindStringSubmatch(trimmed)
	if m == nil {
		return "", false
	}
	return m[1] + m[2] + m[3], true
}
