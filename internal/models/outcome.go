package models

import "fmt"

// RecordError is a per-record failure captured during a cycle.
type RecordError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// Outcome aggregates the result of one sync cycle. It is never persisted.
type Outcome struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Errors  []RecordError `json:"errors"`
	// Notice carries an advisory message for cycles that did not run.
	Notice string `json:"notice,omitempty"`
}

// AddError appends a record failure, preserving processing order.
func (o *Outcome) AddError(key string, err error) {
	o.Errors = append(o.Errors, RecordError{Key: key, Message: err.Error()})
}

// FirstError returns the first recorded failure, or "" if none.
func (o Outcome) FirstError() string {
	if len(o.Errors) == 0 {
		return ""
	}
	return o.Errors[0].Error()
}

// Summary renders a one-line human-readable report.
func (o Outcome) Summary() string {
	if o.Notice != "" {
		return o.Notice
	}
	s := fmt.Sprintf("created %d, updated %d, skipped %d", o.Created, o.Updated, o.Skipped)
	if n := len(o.Errors); n > 0 {
		s += fmt.Sprintf(", %d failed (first: %s)", n, o.FirstError())
	}
	return s
}
