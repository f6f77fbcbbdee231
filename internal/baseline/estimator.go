package baseline

import "math"

// Defaults for the sliding-window estimator.
const (
	DefaultCapacity  = 1000
	DefaultWarmup    = 20
	DefaultSigmaK    = 2.0
	DefaultMinStdDev = 1e-6
)

// Config tunes a baseline estimator.
type Config struct {
	Capacity  int     // max learned scores kept in the window
	Warmup    int     // learned scores required before classification is trusted
	SigmaK    float64 // threshold = mean - SigmaK*stdDev
	MinStdDev float64 // floor applied to stdDev before deriving the threshold
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Warmup <= 0 {
		c.Warmup = DefaultWarmup
	}
	if c.SigmaK <= 0 {
		c.SigmaK = DefaultSigmaK
	}
	if c.MinStdDev <= 0 {
		c.MinStdDev = DefaultMinStdDev
	}
	return c
}

// Estimator maintains a bounded FIFO window of recently learned "normal"
// scores and derives a dynamic anomaly threshold from it. Updates are O(1):
// mean and variance come from running sums, never a window rescan.
//
// Estimator is not safe for concurrent use; each owner stream serializes
// access to its own instance.
type Estimator struct {
	cfg Config

	buf   []float64 // ring buffer of learned scores
	head  int       // index of the oldest entry
	count int

	sum   float64
	sumSq float64

	mean      float64
	stdDev    float64
	threshold float64
}

// Snapshot is a read-only view of the estimator state. Mean, StdDev and
// Threshold are nil until at least one score has been learned.
type Snapshot struct {
	BaselineN int      `json:"baseline_n"`
	WarmedUp  bool     `json:"warmed_up"`
	Mean      *float64 `json:"mean"`
	StdDev    *float64 `json:"std_dev"`
	Threshold *float64 `json:"threshold"`
	SigmaK    float64  `json:"sigma_k"`
}

// New creates an estimator, applying defaults for any zero config field.
func New(cfg Config) *Estimator {
	cfg = cfg.withDefaults()
	return &Estimator{
		cfg: cfg,
		buf: make([]float64, cfg.Capacity),
	}
}

// Learn folds a score into the window. Non-finite scores are ignored.
// When the window is full the oldest score is evicted first.
func (e *Estimator) Learn(score float64) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return
	}

	if e.count == e.cfg.Capacity {
		oldest := e.buf[e.head]
		e.sum -= oldest
		e.sumSq -= oldest * oldest
		e.head = (e.head + 1) % e.cfg.Capacity
		e.count--
	}

	e.buf[(e.head+e.count)%e.cfg.Capacity] = score
	e.count++
	e.sum += score
	e.sumSq += score * score

	e.recompute()
}

// recompute refreshes mean/stdDev/threshold from the running sums.
// Variance is E[x^2] - E[x]^2, clamped at zero so floating-point negative
// epsilons never reach the square root.
func (e *Estimator) recompute() {
	n := float64(e.count)
	e.mean = e.sum / n

	variance := e.sumSq/n - e.mean*e.mean
	if variance < 0 {
		variance = 0
	}

	e.stdDev = math.Sqrt(variance)
	if e.stdDev < e.cfg.MinStdDev {
		e.stdDev = e.cfg.MinStdDev
	}

	e.threshold = e.mean - e.cfg.SigmaK*e.stdDev
}

// WarmedUp reports whether enough scores have been learned for the derived
// threshold to be trusted.
func (e *Estimator) WarmedUp() bool {
	return e.count >= e.cfg.Warmup &&
		!math.IsNaN(e.threshold) && !math.IsInf(e.threshold, 0)
}

// IsAnomaly classifies a score against the dynamic threshold. It always
// returns false for non-finite scores and before warmup.
func (e *Estimator) IsAnomaly(score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	if !e.WarmedUp() {
		return false
	}
	return score < e.threshold
}

// Snapshot returns a side-effect-free copy of the current statistics.
func (e *Estimator) Snapshot() Snapshot {
	snap := Snapshot{
		BaselineN: e.count,
		WarmedUp:  e.WarmedUp(),
		SigmaK:    e.cfg.SigmaK,
	}
	if e.count > 0 {
		mean, sd, thr := e.mean, e.stdDev, e.threshold
		snap.Mean = &mean
		snap.StdDev = &sd
		snap.Threshold = &thr
	}
	return snap
}

// Window returns the learned scores oldest first. Intended for tests and
// diagnostics.
func (e *Estimator) Window() []float64 {
	out := make([]float64, 0, e.count)
	for i := 0; i < e.count; i++ {
		out = append(out, e.buf[(e.head+i)%e.cfg.Capacity])
	}
	return out
}
