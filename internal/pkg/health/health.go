// Package health classifies raw scheduler node state tokens into the three
// health categories the monitor acts on.
package health

import "strings"

type Category int

const (
	Healthy Category = iota
	Problem
	Unreachable
)

func (c Category) String() string {
	switch c {
	case Healthy:
		return "healthy"
	case Problem:
		return "problem"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// DefaultProblemTokens are the state prefixes treated as a problem when a
// cluster's configuration does not override them. Prefix matching covers the
// compound and suffixed variants Slurm emits (drained, draining, drained*, ...).
var DefaultProblemTokens = []string{
	"down", "drain", "drng", "fail", "maint", "unk", "boot_fail",
}

// Classifier maps raw state tokens to categories using a fixed token list.
// The zero value is not usable; construct with New.
type Classifier struct {
	tokens []string
}

func New(problemTokens []string) *Classifier {
	if len(problemTokens) == 0 {
		problemTokens = DefaultProblemTokens
	}
	tokens := make([]string, len(problemTokens))
	for i, t := range problemTokens {
		tokens[i] = strings.ToLower(t)
	}
	return &Classifier{tokens: tokens}
}

// Classify maps one raw scheduler state token to a health category. Matching
// is case-insensitive and by prefix on each "+"-separated component of the
// token. The not-responding marker ("*" suffix in sinfo, NOT_RESPONDING flag
// in scontrol) forces Problem regardless of the base state: an unresponsive
// node cannot be trusted even if nominally idle. Total function, never fails.
func (c *Classifier) Classify(raw string) Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Healthy
	}
	if strings.HasSuffix(s, "*") || strings.Contains(s, "not_responding") {
		return Problem
	}
	for _, part := range strings.Split(s, "+") {
		part = strings.TrimSuffix(part, "*")
		for _, tok := range c.tokens {
			if strings.HasPrefix(part, tok) {
				return Problem
			}
		}
	}
	return Healthy
}
