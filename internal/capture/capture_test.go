package capture

import (
	"errors"
	"math"
	"testing"
	"time"

	"typeshield/internal/behaviour"
)

// typeKeys feeds n keystrokes with fixed dwell and flight into a precise
// recorder and returns the clock after the final key-up.
func typeKeys(r *Recorder, start time.Time, n int, dwell, flight time.Duration) time.Time {
	now := start
	for i := 0; i < n; i++ {
		if i > 0 {
			now = now.Add(flight)
		}
		r.KeyDown(now)
		now = now.Add(dwell)
		r.KeyUp(now)
	}
	return now
}

func TestPreciseBasicCapture(t *testing.T) {
	r := NewPrecise()
	start := time.Unix(0, 0)
	end := typeKeys(r, start, 5, 100*time.Millisecond, 80*time.Millisecond)

	if !r.Valid() {
		t.Fatal("capture reported invalid after typing")
	}
	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}

	if got := len(v.DwellTimes); got != 5 {
		t.Errorf("dwell count = %d, want 5", got)
	}
	if got := len(v.FlightTimes); got != 4 {
		t.Errorf("flight count = %d, want 4", got)
	}
	for i, d := range v.DwellTimes {
		if math.Abs(d-100) > 0.001 {
			t.Errorf("dwell[%d] = %v, want 100", i, d)
		}
	}
	for i, f := range v.FlightTimes {
		if math.Abs(f-80) > 0.001 {
			t.Errorf("flight[%d] = %v, want 80", i, f)
		}
	}
	wantTotal := ms(end.Sub(start))
	if math.Abs(v.TotalTime-wantTotal) > 0.001 {
		t.Errorf("total time = %v, want %v", v.TotalTime, wantTotal)
	}
	if v.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0", v.ErrorCount)
	}
	if v.Device != behaviour.DevicePrecise {
		t.Errorf("device = %v, want precise", v.Device)
	}
}

func TestPreciseCorrectionRollback(t *testing.T) {
	r := NewPrecise()
	typeKeys(r, time.Unix(0, 0), 5, 100*time.Millisecond, 80*time.Millisecond)

	r.Correction()

	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if got := len(v.DwellTimes); got != 4 {
		t.Errorf("dwell count after correction = %d, want 4", got)
	}
	if got := len(v.FlightTimes); got != 3 {
		t.Errorf("flight count after correction = %d, want 3", got)
	}
	if v.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", v.ErrorCount)
	}
}

func TestPreciseCorrectionToEmpty(t *testing.T) {
	r := NewPrecise()
	typeKeys(r, time.Unix(0, 0), 2, 100*time.Millisecond, 80*time.Millisecond)

	r.Correction()
	r.Correction()

	if r.Valid() {
		t.Error("capture still valid after deleting every keystroke")
	}
	if _, err := r.Vector(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Vector err = %v, want ErrIncomplete", err)
	}
	if r.ErrorCount() != 2 {
		t.Errorf("error count = %d, want 2 after corrections", r.ErrorCount())
	}

	// A fresh keystroke re-anchors the total-time start.
	now := time.Unix(10, 0)
	r.KeyDown(now)
	r.KeyUp(now.Add(90 * time.Millisecond))
	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if math.Abs(v.TotalTime-90) > 0.001 {
		t.Errorf("total time = %v, want 90 from the new anchor", v.TotalTime)
	}
}

func TestPreciseFlightResumesAfterCorrection(t *testing.T) {
	r := NewPrecise()
	end := typeKeys(r, time.Unix(0, 0), 3, 100*time.Millisecond, 80*time.Millisecond)

	r.Correction()

	// The next flight is measured from the surviving key-up, which after the
	// pop is the second keystroke's release.
	r.KeyDown(end.Add(200 * time.Millisecond))
	r.KeyUp(end.Add(300 * time.Millisecond))

	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if got := len(v.DwellTimes); got != 3 {
		t.Fatalf("dwell count = %d, want 3", got)
	}
	lastFlight := v.FlightTimes[len(v.FlightTimes)-1]
	// Second key-up was at 100+80+100 = 280ms; the new key-down lands at
	// end(460ms)+200 = 660ms, so 380ms of flight.
	if math.Abs(lastFlight-380) > 0.001 {
		t.Errorf("flight after correction = %v, want 380", lastFlight)
	}
}

func TestCoarseSingleAppends(t *testing.T) {
	r := NewCoarse(DefaultCoarseConfig())
	now := time.Unix(0, 0)

	r.ValueChange(1, now)
	now = now.Add(150 * time.Millisecond)
	r.ValueChange(2, now)
	now = now.Add(400 * time.Millisecond)
	r.ValueChange(3, now)

	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if got := len(v.DwellTimes); got != 3 {
		t.Fatalf("dwell count = %d, want 3", got)
	}
	if math.Abs(v.DwellTimes[0]-DefaultInitialDwellMs) > 0.001 {
		t.Errorf("first dwell = %v, want fixed default %v", v.DwellTimes[0], float64(DefaultInitialDwellMs))
	}
	if math.Abs(v.DwellTimes[1]-150) > 0.001 {
		t.Errorf("second dwell = %v, want 150 (gap within clamp)", v.DwellTimes[1])
	}
	if math.Abs(v.DwellTimes[2]-DefaultMaxDwellMs) > 0.001 {
		t.Errorf("third dwell = %v, want clamped to %v", v.DwellTimes[2], float64(DefaultMaxDwellMs))
	}
	if got := len(v.FlightTimes); got != 2 {
		t.Fatalf("flight count = %d, want 2", got)
	}
	if math.Abs(v.FlightTimes[0]-150) > 0.001 || math.Abs(v.FlightTimes[1]-400) > 0.001 {
		t.Errorf("flights = %v, want [150 400]", v.FlightTimes)
	}
	if v.Device != behaviour.DeviceCoarse {
		t.Errorf("device = %v, want coarse", v.Device)
	}
}

func TestCoarseDeletion(t *testing.T) {
	r := NewCoarse(DefaultCoarseConfig())
	now := time.Unix(0, 0)
	for i := 1; i <= 5; i++ {
		r.ValueChange(i, now)
		now = now.Add(120 * time.Millisecond)
	}

	// Delete two characters in one event.
	r.ValueChange(3, now)

	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if got := len(v.DwellTimes); got != 3 {
		t.Errorf("dwell count = %d, want 3", got)
	}
	if v.ErrorCount != 2 {
		t.Errorf("error count = %d, want 2", v.ErrorCount)
	}
}

func TestCoarseBulkInsertDiscards(t *testing.T) {
	r := NewCoarse(DefaultCoarseConfig())
	now := time.Unix(0, 0)
	for i := 1; i <= 3; i++ {
		r.ValueChange(i, now)
		now = now.Add(120 * time.Millisecond)
	}
	// Delete once so there is a nonzero error count to discard too.
	r.ValueChange(2, now)
	if r.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1 before bulk insert", r.ErrorCount())
	}

	// Paste: length jumps from 2 to 9 in one event.
	r.ValueChange(9, now.Add(50*time.Millisecond))

	if r.Valid() {
		t.Error("capture still valid after bulk insert")
	}
	if r.KeyCount() != 0 {
		t.Errorf("key count = %d, want 0 after discard", r.KeyCount())
	}
	if r.ErrorCount() != 0 {
		t.Errorf("error count = %d, want 0 after discard", r.ErrorCount())
	}
	if _, err := r.Vector(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Vector err = %v, want ErrIncomplete", err)
	}

	// Typing resumes from the pasted length.
	resume := now.Add(1 * time.Second)
	r.ValueChange(10, resume)
	r.ValueChange(11, resume.Add(130*time.Millisecond))
	v, err := r.Vector()
	if err != nil {
		t.Fatalf("Vector after resume: %v", err)
	}
	if got := len(v.DwellTimes); got != 2 {
		t.Errorf("dwell count after resume = %d, want 2", got)
	}
}

func TestSubmissionGuard(t *testing.T) {
	precise := NewPrecise()
	if precise.Valid() {
		t.Error("empty precise capture reported valid")
	}
	// A key-down without a release leaves no terminal timestamp.
	precise.KeyDown(time.Unix(0, 0))
	if precise.Valid() {
		t.Error("capture with no key-up reported valid")
	}

	coarse := NewCoarse(DefaultCoarseConfig())
	if coarse.Valid() {
		t.Error("empty coarse capture reported valid")
	}
}

func TestStrategiesNeverMix(t *testing.T) {
	precise := NewPrecise()
	precise.ValueChange(5, time.Unix(0, 0))
	if precise.KeyCount() != 0 {
		t.Error("precise recorder accepted a length-delta event")
	}

	coarse := NewCoarse(DefaultCoarseConfig())
	coarse.KeyDown(time.Unix(0, 0))
	coarse.KeyUp(time.Unix(0, 0).Add(100 * time.Millisecond))
	if coarse.KeyCount() != 0 {
		t.Error("coarse recorder accepted key events")
	}
}

func TestCoarseConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CoarseConfig
		wantErr bool
	}{
		{"defaults", DefaultCoarseConfig(), false},
		{"inverted clamp", CoarseConfig{MinDwellMs: 300, MaxDwellMs: 60, InitialDwellMs: 120}, true},
		{"negative initial", CoarseConfig{MinDwellMs: 60, MaxDwellMs: 300, InitialDwellMs: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
