package commands

import (
	"strings"
)

// OutcomeKind is the canonical, transport-independent result of a device
// operation.
type OutcomeKind int

const (
	OutcomeCreated OutcomeKind = iota + 1
	OutcomeAlreadyExists
	OutcomeDeleted
	OutcomeNotFound
	OutcomeEnabled
	OutcomeDisabled
	OutcomeStatusUp
	OutcomeStatusDown
	OutcomeStatusAbsent
	// OutcomeStatusRaw carries status text that matched no keyword group.
	OutcomeStatusRaw
	// OutcomeFailed is a mutating call whose raw answer carried a failure
	// marker other than "already exists" or an absence.
	OutcomeFailed
	OutcomeTransportError
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeCreated:        "created",
	OutcomeAlreadyExists:  "already_exists",
	OutcomeDeleted:        "deleted",
	OutcomeNotFound:       "not_found",
	OutcomeEnabled:        "enabled",
	OutcomeDisabled:       "disabled",
	OutcomeStatusUp:       "status_up",
	OutcomeStatusDown:     "status_down",
	OutcomeStatusAbsent:   "status_absent",
	OutcomeStatusRaw:      "status_raw",
	OutcomeFailed:         "failed",
	OutcomeTransportError: "transport_error",
}

func (k OutcomeKind) String() string {
	if s, ok := outcomeNames[k]; ok {
		return s
	}
	return "unknown"
}

// Outcome is the normalised result. Detail holds the raw text for
// OutcomeStatusRaw and OutcomeFailed and the error text for
// OutcomeTransportError.
type Outcome struct {
	Kind   OutcomeKind
	Detail string
}

// Success reports whether the outcome is a successful mutation or a
// definite status answer.
func (o Outcome) Success() bool {
	switch o.Kind {
	case OutcomeCreated, OutcomeDeleted, OutcomeEnabled, OutcomeDisabled,
		OutcomeStatusUp, OutcomeStatusDown, OutcomeStatusAbsent, OutcomeStatusRaw:
		return true
	}
	return false
}

type keywordRule struct {
	keywords []string
	kind     OutcomeKind
}

// mutateFailureRules is ordered; the first rule with a matching keyword wins.
// Together the keywords are exactly the failure markers "already exists",
// "cannot", "not found", "absent", "does not exist", "error", "failed".
var mutateFailureRules = []keywordRule{
	{keywords: []string{"already exists"}, kind: OutcomeAlreadyExists},
	{keywords: []string{"not found", "absent", "does not exist"}, kind: OutcomeNotFound},
	{keywords: []string{"cannot", "error", "failed"}, kind: OutcomeFailed},
}

// statusRules is ordered; absence is checked before "up" so that "not found"
// never reads as an interface state.
var statusRules = []keywordRule{
	{keywords: []string{"no interface", "not found", "absent"}, kind: OutcomeStatusAbsent},
	{keywords: []string{"enabled", "up"}, kind: OutcomeStatusUp},
	{keywords: []string{"disabled", "shutdown", "down"}, kind: OutcomeStatusDown},
}

var mutateSuccess = map[Operation]OutcomeKind{
	OpCreate:  OutcomeCreated,
	OpDelete:  OutcomeDeleted,
	OpEnable:  OutcomeEnabled,
	OpDisable: OutcomeDisabled,
}

// Normalize maps a raw adapter answer for op to exactly one Outcome.
func Normalize(op Operation, raw string) Outcome {
	low := strings.ToLower(raw)

	if op == OpStatus {
		if kind, ok := matchRules(statusRules, low); ok {
			return Outcome{Kind: kind}
		}
		return Outcome{Kind: OutcomeStatusRaw, Detail: raw}
	}

	if kind, ok := matchRules(mutateFailureRules, low); ok {
		if kind == OutcomeFailed {
			return Outcome{Kind: kind, Detail: raw}
		}
		return Outcome{Kind: kind}
	}
	if kind, ok := mutateSuccess[op]; ok {
		return Outcome{Kind: kind}
	}
	return Outcome{Kind: OutcomeFailed, Detail: raw}
}

// FromError wraps a transport fault.
func FromError(detail string) Outcome {
	return Outcome{Kind: OutcomeTransportError, Detail: detail}
}

func matchRules(rules []keywordRule, low string) (OutcomeKind, bool) {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(low, kw) {
				return r.kind, true
			}
		}
	}
	return 0, false
}
