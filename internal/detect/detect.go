// Package detect decides whether a remote record needs its local document
// regenerated during a sync cycle.
package detect

import "fmt"

// Action is the per-record verdict.
type Action int

const (
	Skip Action = iota
	Process
)

func (a Action) String() string {
	if a == Process {
		return "process"
	}
	return "skip"
}

// Reason explains a Process verdict.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonFirstSight      Reason = "first_sight"
	ReasonRemoteChanged   Reason = "remote_changed"
	ReasonMissingDocument Reason = "missing_document"
	ReasonSideCondition   Reason = "side_condition"
)

// SideCondition is an out-of-band reason to reprocess an unchanged record.
// Check is only called when no structural reason applies, since it may need
// to read the document.
type SideCondition struct {
	Name  string
	Check func() (bool, error)
}

// Input describes one record at decision time.
type Input struct {
	Version         int64
	BaselineVersion int64
	HasBaseline     bool
	DocumentExists  bool
	SideConditions  []SideCondition
}

// Decision is the result of Decide.
type Decision struct {
	Action    Action
	Reason    Reason
	Condition string
	// Err is set when a side-condition check failed; the record is then
	// processed so it gets regenerated.
	Err error
}

func (d Decision) String() string {
	if d.Action == Skip {
		return "skip"
	}
	if d.Condition != "" {
		return fmt.Sprintf("process (%s: %s)", d.Reason, d.Condition)
	}
	return fmt.Sprintf("process (%s)", d.Reason)
}

// Decide applies the checks in priority order: missing baseline, newer
// remote version, missing document, then side conditions in the given order.
func Decide(in Input) Decision {
	switch {
	case !in.HasBaseline:
		return Decision{Action: Process, Reason: ReasonFirstSight}
	case in.BaselineVersion < in.Version:
		return Decision{Action: Process, Reason: ReasonRemoteChanged}
	case !in.DocumentExists:
		return Decision{Action: Process, Reason: ReasonMissingDocument}
	}

	for _, sc := range in.SideConditions {
		if sc.Check == nil {
			continue
		}
		hit, err := sc.Check()
		if err != nil {
			return Decision{Action: Process, Reason: ReasonSideCondition, Condition: sc.Name, Err: err}
		}
		if hit {
			return Decision{Action: Process, Reason: ReasonSideCondition, Condition: sc.Name}
		}
	}
	return Decision{Action: Skip}
}
