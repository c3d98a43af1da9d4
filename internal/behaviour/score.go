package behaviour

import (
	"fmt"
	"math"
)

// epsilon guards divisions against zero denominators.
const epsilon = 1e-6

// Weights is one per-device weight table. The six weights must sum to 1.
type Weights struct {
	Dwell  float64 `toml:"dwell" json:"dwell" yaml:"dwell"`
	Flight float64 `toml:"flight" json:"flight" yaml:"flight"`
	Total  float64 `toml:"total" json:"total" yaml:"total"`
	Speed  float64 `toml:"speed" json:"speed" yaml:"speed"`
	Length float64 `toml:"length" json:"length" yaml:"length"`
	Error  float64 `toml:"error" json:"error" yaml:"error"`
}

// Sum returns the total of all six weights.
func (w Weights) Sum() float64 {
	return w.Dwell + w.Flight + w.Total + w.Speed + w.Length + w.Error
}

// Config holds the scorer's tunables. All values are externally
// overridable; the defaults preserve the calibrated production constants.
type Config struct {
	// Threshold is the minimum similarity percentage for a pass.
	Threshold float64 `toml:"threshold" json:"threshold" yaml:"threshold"`

	// KeyCountTolerance is the maximum allowed absolute difference in
	// keystroke counts between template and attempt.
	KeyCountTolerance int `toml:"key_count_tolerance" json:"key_count_tolerance" yaml:"key_count_tolerance"`

	// TempoRatioMin and TempoRatioMax bound the inclusive ratio band for
	// total duration and mean typing speed relative to the template.
	TempoRatioMin float64 `toml:"tempo_ratio_min" json:"tempo_ratio_min" yaml:"tempo_ratio_min"`
	TempoRatioMax float64 `toml:"tempo_ratio_max" json:"tempo_ratio_max" yaml:"tempo_ratio_max"`

	// Precise and Coarse are the per-device-class weight tables. The coarse
	// table is flatter because synthetic dwell and flight values carry more
	// noise.
	Precise Weights `toml:"weights_precise" json:"weights_precise" yaml:"weights_precise"`
	Coarse  Weights `toml:"weights_coarse" json:"weights_coarse" yaml:"weights_coarse"`
}

// DefaultConfig returns the calibrated default scorer configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:         75.0,
		KeyCountTolerance: 1,
		TempoRatioMin:     0.6,
		TempoRatioMax:     1.6,
		Precise: Weights{
			Dwell:  0.26,
			Flight: 0.26,
			Total:  0.14,
			Speed:  0.14,
			Length: 0.10,
			Error:  0.10,
		},
		Coarse: Weights{
			Dwell:  0.30,
			Flight: 0.30,
			Total:  0.12,
			Speed:  0.08,
			Length: 0.10,
			Error:  0.10,
		},
	}
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("behaviour: threshold %g outside [0,100]", c.Threshold)
	}
	if c.KeyCountTolerance < 0 {
		return fmt.Errorf("behaviour: negative key count tolerance %d", c.KeyCountTolerance)
	}
	if c.TempoRatioMin <= 0 || c.TempoRatioMax <= c.TempoRatioMin {
		return fmt.Errorf("behaviour: tempo ratio band [%g,%g] is not a valid range", c.TempoRatioMin, c.TempoRatioMax)
	}
	for _, tbl := range []struct {
		name string
		w    Weights
	}{{"precise", c.Precise}, {"coarse", c.Coarse}} {
		if math.Abs(tbl.w.Sum()-1.0) > 1e-9 {
			return fmt.Errorf("behaviour: %s weights sum to %g, want 1", tbl.name, tbl.w.Sum())
		}
	}
	return nil
}

// weightsFor selects the weight table for a device class.
func (c Config) weightsFor(d DeviceClass) Weights {
	if d == DeviceCoarse {
		return c.Coarse
	}
	return c.Precise
}

// Scorer compares attempt vectors against enrolled templates.
// It holds no mutable state and may be shared across goroutines.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer with the given configuration.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score compares an attempt against a template and returns the result.
// Guards short-circuit the pass decision but the percentage is still
// computed so callers can report a diagnostic breakdown.
func (s *Scorer) Score(template, attempt TimingVector) (*ScoreResult, error) {
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	if err := attempt.Validate(); err != nil {
		return nil, fmt.Errorf("attempt: %w", err)
	}

	res := &ScoreResult{}
	s.checkGuards(template, attempt, res)

	components := map[string]float64{
		ComponentDwell:  vectorCloseness(template.DwellTimes, attempt.DwellTimes),
		ComponentFlight: vectorCloseness(template.FlightTimes, attempt.FlightTimes),
		ComponentTotal:  scalarCloseness(template.TotalTime, attempt.TotalTime),
		ComponentSpeed:  scalarCloseness(typingSpeed(template), typingSpeed(attempt)),
		ComponentErrors: scalarCloseness(float64(template.ErrorCount), float64(attempt.ErrorCount)),
		ComponentLength: lengthCloseness(template.KeyCount(), attempt.KeyCount()),
	}

	w := s.cfg.weightsFor(attempt.Device)
	blended := w.Dwell*components[ComponentDwell] +
		w.Flight*components[ComponentFlight] +
		w.Total*components[ComponentTotal] +
		w.Speed*components[ComponentSpeed] +
		w.Length*components[ComponentLength] +
		w.Error*components[ComponentErrors]

	res.Similarity = round2(clamp(blended*100, 0, 100))
	res.Components = make(map[string]float64, len(components))
	for name, closeness := range components {
		res.Components[name] = round2(clamp(closeness*100, 0, 100))
	}

	res.Passed = res.Similarity >= s.cfg.Threshold && len(res.GuardFailures) == 0
	if !res.Passed {
		s.explain(attempt, res)
	}
	return res, nil
}

// checkGuards evaluates the hard preconditions.
func (s *Scorer) checkGuards(template, attempt TimingVector, res *ScoreResult) {
	if absInt(attempt.KeyCount()-template.KeyCount()) > s.cfg.KeyCountTolerance {
		res.GuardFailures = append(res.GuardFailures, GuardKeyCount)
	}

	// Epsilon on both sides so a zero-duration template (single keystroke)
	// still yields ratio 1 against an identical attempt.
	totalRatio := math.Max(attempt.TotalTime, epsilon) / math.Max(template.TotalTime, epsilon)
	speedRatio := typingSpeed(attempt) / math.Max(typingSpeed(template), epsilon)
	if totalRatio < s.cfg.TempoRatioMin || totalRatio > s.cfg.TempoRatioMax ||
		speedRatio < s.cfg.TempoRatioMin || speedRatio > s.cfg.TempoRatioMax {
		res.GuardFailures = append(res.GuardFailures, GuardTempo)
	}
}

// explain fills rejection reasons for a failed result. Reasons quote the
// attempt's component scores, never the template's raw timings.
func (s *Scorer) explain(attempt TimingVector, res *ScoreResult) {
	if res.GuardFailed(GuardKeyCount) {
		res.Reasons = append(res.Reasons,
			fmt.Sprintf("Key count differs from enrollment: got %d keystrokes", attempt.KeyCount()))
	}
	if res.GuardFailed(GuardTempo) {
		res.Reasons = append(res.Reasons, "Overall tempo differs too much from enrollment")
	}
	if len(res.Reasons) > 0 {
		return
	}

	threshold := s.cfg.Threshold
	if v := res.Components[ComponentDwell]; v < threshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Dwell timings differ (score %g%%)", v))
	}
	if v := res.Components[ComponentFlight]; v < threshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Flight timings differ (score %g%%)", v))
	}
	if v := res.Components[ComponentSpeed]; v < threshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Typing speed differs (score %g%%)", v))
	}
	if v := res.Components[ComponentTotal]; v < threshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Total duration differs (score %g%%)", v))
	}
	if v := res.Components[ComponentLength]; v < threshold {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Key count alignment off (score %g%%)", v))
	}
	if v := res.Components[ComponentErrors]; v < threshold && attempt.ErrorCount > 0 {
		res.Reasons = append(res.Reasons, fmt.Sprintf("Too many corrections (score %g%%)", v))
	}
	if len(res.Reasons) == 0 {
		res.Reasons = append(res.Reasons, "Behavioural score below threshold")
	}
}

// typingSpeed derives keys per second from a vector.
func typingSpeed(v TimingVector) float64 {
	keys := v.KeyCount()
	if keys == 0 {
		keys = 1
	}
	return float64(keys) * 1000 / math.Max(v.TotalTime, epsilon)
}

// scalarCloseness computes the relative closeness of two scalars in [0,1].
// Symmetric in its arguments and safe against zero denominators.
func scalarCloseness(a, b float64) float64 {
	return 1 - math.Min(1, math.Abs(a-b)/math.Max(math.Max(a, b), epsilon))
}

// vectorCloseness aligns two vectors by index up to the shorter length,
// averages the per-pair relative closeness, and scales the result down by
// the matched fraction so unmatched positions count as zero closeness.
// Truncating a longer vector therefore cannot inflate the score.
func vectorCloseness(reference, sample []float64) float64 {
	refLen, sampleLen := len(reference), len(sample)
	if refLen == 0 && sampleLen == 0 {
		return 1
	}
	if refLen == 0 || sampleLen == 0 {
		return 0
	}

	minLen := refLen
	if sampleLen < minLen {
		minLen = sampleLen
	}
	maxLen := refLen
	if sampleLen > maxLen {
		maxLen = sampleLen
	}

	sum := 0.0
	for i := 0; i < minLen; i++ {
		sum += scalarCloseness(reference[i], sample[i])
	}
	return (sum / float64(minLen)) * (float64(minLen) / float64(maxLen))
}

// lengthCloseness measures key-count alignment in [0,1], relative to the
// enrolled length.
func lengthCloseness(templateKeys, attemptKeys int) float64 {
	denom := templateKeys
	if denom < 1 {
		denom = 1
	}
	return 1 - math.Min(1, float64(absInt(attemptKeys-templateKeys))/float64(denom))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
