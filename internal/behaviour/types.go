// Package behaviour implements the keystroke-dynamics similarity scorer.
//
// A TimingVector describes how a password was typed: how long each key was
// held (dwell), the gaps between keys (flight), the total duration and the
// number of corrections. The Scorer compares an attempt vector against the
// enrolled template and produces a similarity percentage plus a per-feature
// breakdown. Scoring is a pure computation - no I/O, no mutation of either
// input - so a single Scorer is safe for concurrent use.
package behaviour

import (
	"errors"
	"fmt"
)

// DeviceClass distinguishes hardware-keyboard capture from touch capture.
// Touch input carries more noise, so it gets its own weight table.
type DeviceClass string

const (
	// DevicePrecise is capture from discrete key-down/key-up events.
	DevicePrecise DeviceClass = "precise"

	// DeviceCoarse is capture synthesized from input-length deltas on
	// devices without reliable key events (touch/virtual keyboards).
	DeviceCoarse DeviceClass = "coarse"
)

// Valid reports whether the device class is a known value.
func (d DeviceClass) Valid() bool {
	return d == DevicePrecise || d == DeviceCoarse
}

// TimingVector is an immutable snapshot of one typing capture.
// All durations are milliseconds.
type TimingVector struct {
	// DwellTimes holds one hold duration per accepted keystroke.
	DwellTimes []float64 `json:"dwell_times"`

	// FlightTimes holds the gap between consecutive keystrokes.
	// Usually len(DwellTimes)-1, possibly shorter after corrections.
	FlightTimes []float64 `json:"flight_times"`

	// TotalTime is the duration from first keystroke to last.
	TotalTime float64 `json:"total_time"`

	// ErrorCount is the number of correction events (deletions).
	ErrorCount int `json:"error_count"`

	// Device is the capture strategy that produced this vector.
	Device DeviceClass `json:"device_type"`
}

// KeyCount returns the number of accepted keystrokes.
func (v TimingVector) KeyCount() int {
	return len(v.DwellTimes)
}

// Validate checks the vector invariants. A vector with zero keystrokes
// signals capture failure, not a zero-effort typist, and must never be
// scored or persisted as a template.
func (v TimingVector) Validate() error {
	if v.KeyCount() == 0 {
		return fmt.Errorf("%w: zero keystrokes", ErrInvalidVector)
	}
	for _, d := range v.DwellTimes {
		if d < 0 {
			return fmt.Errorf("%w: negative dwell time %g", ErrInvalidVector, d)
		}
	}
	for _, f := range v.FlightTimes {
		if f < 0 {
			return fmt.Errorf("%w: negative flight time %g", ErrInvalidVector, f)
		}
	}
	if v.TotalTime < 0 {
		return fmt.Errorf("%w: negative total time %g", ErrInvalidVector, v.TotalTime)
	}
	if v.ErrorCount < 0 {
		return fmt.Errorf("%w: negative error count %d", ErrInvalidVector, v.ErrorCount)
	}
	if v.Device != "" && !v.Device.Valid() {
		return fmt.Errorf("%w: unknown device class %q", ErrInvalidVector, v.Device)
	}
	return nil
}

// Clone returns a deep copy of the vector.
func (v TimingVector) Clone() TimingVector {
	c := v
	c.DwellTimes = append([]float64(nil), v.DwellTimes...)
	c.FlightTimes = append([]float64(nil), v.FlightTimes...)
	return c
}

// Guard identifies a hard precondition evaluated before the blended score.
type Guard string

const (
	// GuardKeyCount trips when attempt and template key counts differ by
	// more than the configured tolerance. A larger difference indicates a
	// different password or a corrupted capture, not behavioural drift.
	GuardKeyCount Guard = "key_count"

	// GuardTempo trips when the attempt's total duration or mean typing
	// speed falls outside the configured ratio band of the template's.
	GuardTempo Guard = "tempo"
)

// Component names used in the ScoreResult breakdown.
const (
	ComponentDwell  = "dwell"
	ComponentFlight = "flight"
	ComponentTotal  = "total_time"
	ComponentSpeed  = "speed"
	ComponentLength = "length"
	ComponentErrors = "errors"
)

// ScoreResult is the outcome of comparing an attempt against a template.
// It is a one-shot computation and is not persisted by this package.
type ScoreResult struct {
	// Similarity is the blended similarity percentage, clamped to [0,100]
	// and rounded to two decimals.
	Similarity float64 `json:"similarity_percent"`

	// Components maps each feature name to its sub-score percentage.
	Components map[string]float64 `json:"component_breakdown"`

	// GuardFailures lists the guards that tripped, if any.
	GuardFailures []Guard `json:"guard_failures,omitempty"`

	// Reasons are human-readable rejection reasons. They name the failing
	// category and the attempt's component scores but never the stored
	// template's raw timings.
	Reasons []string `json:"reasons,omitempty"`

	// Passed is true when Similarity meets the threshold and no guard
	// tripped.
	Passed bool `json:"passed"`
}

// GuardFailed reports whether the named guard tripped.
func (r *ScoreResult) GuardFailed(g Guard) bool {
	for _, f := range r.GuardFailures {
		if f == g {
			return true
		}
	}
	return false
}

// Scoring errors.
var (
	// ErrInvalidVector marks a vector with zero keystrokes or malformed
	// values. It is raised before scoring, never silently coerced.
	ErrInvalidVector = errors.New("behaviour: invalid timing vector")

	// ErrTemplateNotFound is returned by template sources when a user has
	// no enrolled template. Callers must fail closed on it.
	ErrTemplateNotFound = errors.New("behaviour: template not found")
)
