package era5

import (
	"errors"
	"fmt"
	"slices"
)

// FallbackPolicy decides what happens when none of the preferred variable
// names is present.
type FallbackPolicy int

const (
	// FallbackNone fails the lookup.
	FallbackNone FallbackPolicy = iota
	// FallbackFirst picks the first available data variable.
	FallbackFirst
)

// ParseFallback converts a policy name ("first" or "none") into a policy.
func ParseFallback(s string) (FallbackPolicy, error) {
	switch s {
	case "", "first":
		return FallbackFirst, nil
	case "none":
		return FallbackNone, nil
	}
	return FallbackNone, fmt.Errorf("unknown variable fallback policy %q", s)
}

func (p FallbackPolicy) String() string {
	if p == FallbackFirst {
		return "first"
	}
	return "none"
}

// ErrNoVariable is returned when no data variable satisfies the policy.
var ErrNoVariable = errors.New("no matching data variable")

// VariablePolicy looks a data variable up by name, then falls back.
type VariablePolicy struct {
	Preferred []string
	Fallback  FallbackPolicy
}

// Resolve returns the chosen variable and whether the fallback was used.
func (p VariablePolicy) Resolve(available []string) (string, bool, error) {
	for _, name := range p.Preferred {
		if slices.Contains(available, name) {
			return name, false, nil
		}
	}
	if p.Fallback == FallbackFirst && len(available) > 0 {
		return available[0], true, nil
	}
	return "", false, fmt.Errorf("%w: want one of %q, have %q", ErrNoVariable, p.Preferred, available)
}
