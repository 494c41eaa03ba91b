package printer

import "fmt"

// Status is the observable state of a session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusPrinting
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusPrinting:
		return "printing"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Busy reports whether a print trigger should be disabled.
func (s Status) Busy() bool {
	return s == StatusConnecting || s == StatusPrinting
}

// CutMode selects the cut command sent by Cut.
type CutMode int

const (
	CutFull CutMode = iota
	CutPartial
)

// ParseCutMode parses "full" or "partial".
func ParseCutMode(s string) (CutMode, error) {
	switch s {
	case "", "full":
		return CutFull, nil
	case "partial":
		return CutPartial, nil
	}
	return CutFull, fmt.Errorf("unknown cut mode %q", s)
}
