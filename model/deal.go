package model

import (
	"fmt"
	"maps"
	"time"
)

// Status is the processing state of a deal record
type Status string

// Status constants
const (
	StatusUploaded      Status = "uploaded"
	StatusQueued        Status = "queued"
	StatusProcessing    Status = "processing"
	StatusTextExtracted Status = "text_extracted"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

var statusRank = map[Status]int{
	StatusUploaded:      0,
	StatusQueued:        1,
	StatusProcessing:    2,
	StatusTextExtracted: 3,
	StatusCompleted:     4,
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusError
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a record in status s may move to next.
// Forward moves may skip steps; error is reachable from any non-terminal
// status; rewriting the same status is always allowed.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Deal is a single uploaded pitch deck and its processing record
type Deal struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId"`
	Filename         string            `json:"filename"`
	StoragePath      string            `json:"storagePath"`
	FileURL          string            `json:"fileUrl,omitempty"`
	Status           Status            `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	FullText         string            `json:"fullText,omitempty"`
	ExtractionTaskID string            `json:"extractionTaskId,omitempty"`
	Analysis         map[string]string `json:"analysis,omitempty"`
}

// Validate checks the status-dependent invariants of the record
func (d *Deal) Validate() error {
	if !d.Status.Valid() {
		return fmt.Errorf("unknown status %q", d.Status)
	}
	hasAnalysis := len(d.Analysis) > 0
	if hasAnalysis != (d.Status == StatusCompleted) {
		return fmt.Errorf("analysis must be present iff status is %s (status=%s)", StatusCompleted, d.Status)
	}
	hasError := d.ErrorMessage != ""
	if hasError != (d.Status == StatusError) {
		return fmt.Errorf("error message must be present iff status is %s (status=%s)", StatusError, d.Status)
	}
	return nil
}

// Complete moves the deal to completed with the given analysis
func (d *Deal) Complete(analysis map[string]string) error {
	if len(analysis) == 0 {
		return fmt.Errorf("completed deal requires a non-empty analysis")
	}
	if !d.Status.CanTransition(StatusCompleted) {
		return fmt.Errorf("cannot move deal from %s to %s", d.Status, StatusCompleted)
	}
	d.Status = StatusCompleted
	d.Analysis = maps.Clone(analysis)
	d.ErrorMessage = ""
	return nil
}

// Fail moves the deal to error with the given message
func (d *Deal) Fail(message string) error {
	if message == "" {
		message = "unknown error"
	}
	if !d.Status.CanTransition(StatusError) {
		return fmt.Errorf("cannot move deal from %s to %s", d.Status, StatusError)
	}
	d.Status = StatusError
	d.ErrorMessage = message
	d.Analysis = nil
	return nil
}

// Advance moves the deal to a non-terminal status
func (d *Deal) Advance(next Status) error {
	if next.Terminal() {
		return fmt.Errorf("use Complete or Fail to reach %s", next)
	}
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("cannot move deal from %s to %s", d.Status, next)
	}
	d.Status = next
	return nil
}

// Clone returns an independent copy safe to hand to other goroutines
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	c := *d
	c.Analysis = maps.Clone(d.Analysis)
	return &c
}
