// Package extract compiles token patterns and scans response text for tokens.
//
// Patterns use regexp2, whose syntax follows the .NET/Java family, so patterns written for
// interception tools carry over without rewriting (lookarounds, possessive-free backtracking).
//
// Concurrency: a compiled Pattern is safe for concurrent use.
package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

var (
	// ErrBadPattern is returned when a pattern fails to compile.
	ErrBadPattern = errors.New("invalid token pattern")
	// ErrNoCaptureGroup is returned when a pattern compiles but has no capture group to extract.
	ErrNoCaptureGroup = errors.New("token pattern has no capture group")
	// ErrMatchTimeout is returned when matching a single response exceeds the match timeout.
	ErrMatchTimeout = errors.New("token pattern match timed out")
)

// DefaultMatchTimeout bounds a single response scan.
const DefaultMatchTimeout = time.Second

// AcceptFunc decides whether a candidate token may be used. A false result skips the
// candidate; an error aborts the scan.
type AcceptFunc func(candidate string) (bool, error)

// Pattern is a compiled, case-insensitive token pattern.
type Pattern struct {
	expr string
	re   *regexp2.Regexp
}

// Compile compiles expr case-insensitively. The pattern must contain at least one capture
// group; group 1 is the token.
func Compile(expr string, timeout time.Duration) (*Pattern, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}
	re, err := regexp2.Compile(expr, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPattern, err)
	}
	// GetGroupNumbers always includes the implicit group 0.
	if len(re.GetGroupNumbers()) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrNoCaptureGroup, expr)
	}
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	re.MatchTimeout = timeout
	return &Pattern{expr: expr, re: re}, nil
}

// String returns the source expression.
func (p *Pattern) String() string { return p.expr }

// Scan walks every match of the pattern in text and returns the last non-empty group 1
// capture that accept allows. A nil accept allows every candidate.
func (p *Pattern) Scan(text string, accept AcceptFunc) (string, bool, error) {
	var (
		last  string
		found bool
	)
	m, err := p.re.FindStringMatch(text)
	for m != nil && err == nil {
		g := m.GroupByNumber(1)
		if g != nil && len(g.Captures) > 0 {
			if candidate := g.String(); candidate != "" {
				ok := true
				if accept != nil {
					var aerr error
					if ok, aerr = accept(candidate); aerr != nil {
						return "", false, aerr
					}
				}
				if ok {
					last, found = candidate, true
				}
			}
		}
		m, err = p.re.FindNextMatch(m)
	}
	if err != nil {
		// regexp2 only fails a match on timeout.
		return "", false, fmt.Errorf("%w: %v", ErrMatchTimeout, err)
	}
	return last, found, nil
}
