// Package classify decides which sampled processes the governor may act on.
package classify

import (
	"github.com/psantana5/governor/internal/pattern"
	"github.com/psantana5/governor/internal/sampler"
)

// Tag is the classification of one sample.
type Tag int

const (
	Ignored Tag = iota
	Target
	Protected
)

// String returns string representation of the tag
func (t Tag) String() string {
	switch t {
	case Target:
		return "TARGET"
	case Protected:
		return "PROTECTED"
	default:
		return "IGNORED"
	}
}

// MarshalText encodes the tag as its name.
func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Rules are the selection inputs from the policy.
type Rules struct {
	TargetPIDs        []int
	TargetPatterns    []string
	ProtectedPatterns []string
}

// Classifier tags samples. Protection is a hard veto.
type Classifier struct {
	pids      map[int]bool
	targets   []string
	protected []string
}

// New builds a classifier from rules.
func New(rules Rules) *Classifier {
	pids := make(map[int]bool, len(rules.TargetPIDs))
	for _, pid := range rules.TargetPIDs {
		pids[pid] = true
	}
	return &Classifier{
		pids:      pids,
		targets:   rules.TargetPatterns,
		protected: rules.ProtectedPatterns,
	}
}

// Classify returns the tag for a sample.
func (c *Classifier) Classify(s sampler.ProcessSample) Tag {
	if pattern.MatchAny(c.protected, s.Command) {
		return Protected
	}
	if c.pids[s.PID] {
		return Target
	}
	if pattern.MatchAny(c.targets, s.Command) {
		return Target
	}
	return Ignored
}
