// Package capture turns raw typing events into a timing vector.
//
// A Recorder is a single-threaded finite-state accumulator fed by event
// handlers: key-down/key-up/correction for devices with discrete key events
// (the precise strategy), or input-length deltas for devices without them
// (the coarse strategy). The strategy is fixed when the Recorder is created
// and never mixed within one capture session. All state mutation happens
// synchronously inside the transition methods, so there are no ordering
// races within a session.
package capture

import (
	"errors"
	"time"

	"typeshield/internal/behaviour"
)

// Coarse-strategy synthetic dwell bounds, in milliseconds.
const (
	DefaultMinDwellMs     = 60
	DefaultMaxDwellMs     = 300
	DefaultInitialDwellMs = 120
)

// ErrIncomplete is returned by Vector when the capture never produced a
// usable recording. Callers must block submission and request a retype;
// this is a hard precondition, not a soft warning.
var ErrIncomplete = errors.New("capture: incomplete recording")

// CoarseConfig bounds the synthetic dwell times derived on coarse devices.
type CoarseConfig struct {
	// MinDwellMs and MaxDwellMs clamp the synthetic dwell derived from the
	// inter-change gap.
	MinDwellMs float64 `toml:"min_dwell_ms" json:"min_dwell_ms" yaml:"min_dwell_ms"`
	MaxDwellMs float64 `toml:"max_dwell_ms" json:"max_dwell_ms" yaml:"max_dwell_ms"`

	// InitialDwellMs is the fixed dwell assigned to the first character,
	// which has no preceding gap to derive from.
	InitialDwellMs float64 `toml:"initial_dwell_ms" json:"initial_dwell_ms" yaml:"initial_dwell_ms"`
}

// DefaultCoarseConfig returns the default synthetic dwell bounds.
func DefaultCoarseConfig() CoarseConfig {
	return CoarseConfig{
		MinDwellMs:     DefaultMinDwellMs,
		MaxDwellMs:     DefaultMaxDwellMs,
		InitialDwellMs: DefaultInitialDwellMs,
	}
}

// Validate checks the configuration invariants.
func (c CoarseConfig) Validate() error {
	if c.MinDwellMs < 0 || c.MaxDwellMs <= c.MinDwellMs {
		return errors.New("capture: dwell clamp bounds are not a valid range")
	}
	if c.InitialDwellMs < 0 {
		return errors.New("capture: negative initial dwell")
	}
	return nil
}

// Recorder accumulates timing state for one capture session.
// It is not safe for concurrent use; captures are single-threaded by design.
type Recorder struct {
	device behaviour.DeviceClass
	coarse CoarseConfig

	dwells  []float64
	flights []float64
	ups     []time.Time

	started bool
	start   time.Time

	// Precise-strategy state.
	hasPending bool
	pending    time.Time
	hasLastUp  bool
	lastUp     time.Time

	// Coarse-strategy state.
	prevLen       int
	hasLastChange bool
	lastChange    time.Time

	errorCount int
}

// NewPrecise creates a Recorder for devices with discrete key events.
func NewPrecise() *Recorder {
	return &Recorder{device: behaviour.DevicePrecise}
}

// NewCoarse creates a Recorder fed by input-length deltas.
func NewCoarse(cfg CoarseConfig) *Recorder {
	return &Recorder{device: behaviour.DeviceCoarse, coarse: cfg}
}

// Device returns the capture strategy of this Recorder.
func (r *Recorder) Device() behaviour.DeviceClass {
	return r.device
}

// KeyDown records a non-correction key press at the given time.
// Precise strategy only; coarse recorders ignore key events.
func (r *Recorder) KeyDown(at time.Time) {
	if r.device != behaviour.DevicePrecise {
		return
	}
	if r.hasLastUp {
		r.flights = append(r.flights, ms(at.Sub(r.lastUp)))
	}
	r.pending = at
	r.hasPending = true
	if !r.started {
		r.started = true
		r.start = at
	}
}

// KeyUp records a key release at the given time. When a pending key-down
// exists, the pair yields one dwell time and one accepted keystroke.
func (r *Recorder) KeyUp(at time.Time) {
	if r.device != behaviour.DevicePrecise {
		return
	}
	if !r.hasPending {
		return
	}
	r.dwells = append(r.dwells, ms(at.Sub(r.pending)))
	r.ups = append(r.ups, at)
	r.lastUp = at
	r.hasLastUp = true
	r.hasPending = false
}

// Correction records a correction key (backspace). The vector always
// reflects the characters currently present, not the full edit history, so
// the most recent dwell, flight and terminal timestamp are popped. The
// correction itself is only counted, never penalized further.
func (r *Recorder) Correction() {
	if r.device != behaviour.DevicePrecise {
		return
	}
	r.errorCount++
	r.pop(1)
	if len(r.dwells) == 0 {
		r.reset(false)
	}
}

// ValueChange records the input field's new length at the given time.
// Coarse strategy only.
func (r *Recorder) ValueChange(length int, at time.Time) {
	if r.device != behaviour.DeviceCoarse {
		return
	}
	delta := length - r.prevLen
	r.prevLen = length

	switch {
	case delta == 1:
		r.appendSynthetic(at)
	case delta < 0:
		r.errorCount += -delta
		r.pop(-delta)
		if len(r.dwells) == 0 {
			r.reset(false)
		}
		r.lastChange = at
		r.hasLastChange = true
	case delta > 1:
		// Bulk insert: paste or autofill. The rhythm cannot be attributed
		// to genuine typing, so the whole in-progress capture is discarded.
		r.reset(true)
	}
}

// appendSynthetic derives one keystroke from a single-character append.
func (r *Recorder) appendSynthetic(at time.Time) {
	gap := 0.0
	if r.hasLastChange {
		gap = ms(at.Sub(r.lastChange))
	}

	if len(r.dwells) == 0 {
		r.dwells = append(r.dwells, r.coarse.InitialDwellMs)
	} else {
		r.flights = append(r.flights, gap)
		dwell := gap
		if dwell < r.coarse.MinDwellMs {
			dwell = r.coarse.MinDwellMs
		}
		if dwell > r.coarse.MaxDwellMs {
			dwell = r.coarse.MaxDwellMs
		}
		r.dwells = append(r.dwells, dwell)
	}
	r.ups = append(r.ups, at)
	r.lastChange = at
	r.hasLastChange = true
	if !r.started {
		r.started = true
		r.start = at
	}
}

// pop removes up to n entries from the end of each timing sequence.
func (r *Recorder) pop(n int) {
	for i := 0; i < n; i++ {
		if len(r.dwells) > 0 {
			r.dwells = r.dwells[:len(r.dwells)-1]
		}
		if len(r.flights) > 0 {
			r.flights = r.flights[:len(r.flights)-1]
		}
		if len(r.ups) > 0 {
			r.ups = r.ups[:len(r.ups)-1]
		}
	}
	if len(r.ups) > 0 {
		r.lastUp = r.ups[len(r.ups)-1]
		r.hasLastUp = true
	} else {
		r.hasLastUp = false
	}
}

// reset clears accumulated timing state. When discard is true the error
// count is cleared too (bulk-insert semantics); corrections keep it.
func (r *Recorder) reset(discard bool) {
	r.dwells = nil
	r.flights = nil
	r.ups = nil
	r.started = false
	r.hasPending = false
	r.hasLastUp = false
	r.hasLastChange = false
	if discard {
		r.errorCount = 0
	}
}

// ErrorCount returns the corrections recorded so far.
func (r *Recorder) ErrorCount() int {
	return r.errorCount
}

// KeyCount returns the accepted keystrokes recorded so far.
func (r *Recorder) KeyCount() int {
	return len(r.dwells)
}

// Valid reports whether the capture can be submitted: a start anchor exists
// and at least one terminal timestamp was recorded.
func (r *Recorder) Valid() bool {
	return r.started && len(r.ups) > 0
}

// Vector produces an immutable timing vector snapshot, or ErrIncomplete if
// the capture is not submittable.
func (r *Recorder) Vector() (behaviour.TimingVector, error) {
	if !r.Valid() {
		return behaviour.TimingVector{}, ErrIncomplete
	}
	last := r.ups[len(r.ups)-1]
	v := behaviour.TimingVector{
		DwellTimes:  append([]float64(nil), r.dwells...),
		FlightTimes: append([]float64(nil), r.flights...),
		TotalTime:   ms(last.Sub(r.start)),
		ErrorCount:  r.errorCount,
		Device:      r.device,
	}
	return v, nil
}

// ms converts a duration to fractional milliseconds, floored at zero.
func ms(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
