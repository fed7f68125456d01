package scan

import "fmt"

// Status is a run's lifecycle state. Transitions only move forward along
// pending -> scanning -> compiling -> {done, error}; a terminal status
// never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScanning  Status = "scanning"
	StatusCompiling Status = "compiling"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// IsValid returns true for a known status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusScanning, StatusCompiling, StatusDone, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the run has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// transitions is the complete set of legal status moves. Submitting an
// empty file queue skips scanning, so pending may go straight to
// compiling.
var transitions = map[Status][]Status{
	StatusPending:   {StatusScanning, StatusCompiling, StatusError},
	StatusScanning:  {StatusCompiling, StatusError},
	StatusCompiling: {StatusDone, StatusError},
	StatusDone:      {},
	StatusError:     {},
}

func init() {
	if err := validateTransitions(); err != nil {
		panic(err)
	}
}

// validateTransitions checks the table is closed over valid statuses and
// that terminal states have no way out.
func validateTransitions() error {
	for from, tos := range transitions {
		if !from.IsValid() {
			return fmt.Errorf("transition table references unknown status %q", from)
		}
		if from.Terminal() && len(tos) > 0 {
			return fmt.Errorf("terminal status %q must not have outgoing transitions", from)
		}
		for _, to := range tos {
			if !to.IsValid() {
				return fmt.Errorf("transition %s -> %q references unknown status", from, to)
			}
		}
	}
	for _, s := range []Status{StatusPending, StatusScanning, StatusCompiling, StatusDone, StatusError} {
		if _, ok := transitions[s]; !ok {
			return fmt.Errorf("transition table missing status %q", s)
		}
	}
	return nil
}

func canTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
