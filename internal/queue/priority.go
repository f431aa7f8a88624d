package queue

import (
	"fmt"
	"strings"
)

// Priority orders jobs; lower values are more urgent.
type Priority int

const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityMedium     Priority = 3
	PriorityLow        Priority = 4
	PriorityNegligible Priority = 5
)

// Priorities lists every tier, most urgent first.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityNegligible}

var priorityNames = map[Priority]string{
	PriorityCritical:   "critical",
	PriorityHigh:       "high",
	PriorityMedium:     "medium",
	PriorityLow:        "low",
	PriorityNegligible: "negligible",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// AtLeast reports whether p is as urgent as other or more.
func (p Priority) AtLeast(other Priority) bool {
	return p <= other
}

// ParsePriority accepts a tier name or its number.
func ParsePriority(value string) (Priority, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	for p, name := range priorityNames {
		if name == trimmed || fmt.Sprint(int(p)) == trimmed {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", value)
}

// demoted lowers the tier of a job that keeps failing: beyond 3 retries
// nothing stays above medium, beyond 6 above low, beyond 8 above negligible.
func demoted(p Priority, retries int) Priority {
	switch {
	case p < PriorityMedium && retries > 3:
		return PriorityMedium
	case p < PriorityLow && retries > 6:
		return PriorityLow
	case p < PriorityNegligible && retries > 8:
		return PriorityNegligible
	default:
		return p
	}
}
