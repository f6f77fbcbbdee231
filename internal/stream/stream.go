package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tracel-engine/internal/alert"
	"tracel-engine/internal/baseline"
	"tracel-engine/internal/metrics"
	"tracel-engine/internal/model"
	"tracel-engine/internal/simulate"
	"tracel-engine/internal/storage"

	"github.com/sirupsen/logrus"
)

// Scorer asks an external model for an anomaly score. The boolean is false
// when no score could be obtained; the pipeline then degrades instead of
// blocking.
type Scorer interface {
	Score(ctx context.Context, pkt model.Packet) (float64, bool)
}

// ThresholdProvider exposes the gateway's calibrated training threshold,
// used to bootstrap learning and classification before the per-owner
// baseline has warmed up.
type ThresholdProvider interface {
	CalibratedThreshold() (float64, bool)
}

const (
	subscriberBuffer     = 64
	scoreTimeout         = 3 * time.Second
	defaultAlertCooldown = 30 * time.Second
)

// Subscriber is one attached consumer of an owner's record stream. C is
// closed on detach; a slow consumer loses records rather than stalling the
// pipeline.
type Subscriber struct {
	ID string
	C  chan model.Record
}

// Deps carries the shared collaborators a stream needs. One Deps value is
// built at startup and reused for every owner.
type Deps struct {
	Scorer     Scorer
	Thresholds ThresholdProvider
	Store      storage.Store
	Notifier   alert.Notifier
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger

	Estimator baseline.Config
	Source    simulate.Config

	// AlertCooldown throttles notifications per owner. Zero means the
	// default.
	AlertCooldown time.Duration
}

// Stats is a point-in-time view of one owner stream.
type Stats struct {
	OwnerID     string            `json:"owner_id"`
	Active      bool              `json:"active"`
	AttackMode  bool              `json:"attack_mode"`
	Subscribers int               `json:"subscribers"`
	Packets     int64             `json:"packets"`
	Threats     int64             `json:"threats"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	Baseline    baseline.Snapshot `json:"baseline"`
}

// Stream runs the classification pipeline for a single owner: one packet
// source, one baseline estimator, any number of subscribers. All pipeline
// state is guarded by mu; packets for one owner are processed strictly in
// emission order.
type Stream struct {
	owner string
	deps  Deps

	source *simulate.Source

	mu        sync.Mutex
	est       *baseline.Estimator
	subs      map[string]*Subscriber
	packets   int64
	threats   int64
	startedAt time.Time
	lastAlert time.Time
}

func newStream(owner string, attack bool, deps Deps) *Stream {
	s := &Stream{
		owner:     owner,
		deps:      deps,
		est:       baseline.New(deps.Estimator),
		subs:      make(map[string]*Subscriber),
		startedAt: time.Now().UTC(),
	}
	s.source = simulate.NewSource(owner, deps.Source, deps.Logger)
	s.source.SetMode(attack)
	return s
}

func (s *Stream) start() {
	s.source.Start(s.process)
}

func (s *Stream) stop() {
	s.source.Stop()
}

func (s *Stream) setMode(attack bool) {
	s.source.SetMode(attack)
}

// process classifies one packet and publishes the resulting record.
//
// Learning is two-tier: in normal mode every score feeds the baseline; in
// attack mode only scores the gateway's calibrated threshold vouches for
// are learned, and only until the baseline has warmed up. Classification is
// the mirror image: the warmed-up baseline decides, with the calibrated
// threshold as a bootstrap fallback before warmup.
func (s *Stream) process(pkt model.Packet) {
	ctx, cancel := context.WithTimeout(context.Background(), scoreTimeout)
	score, scored := s.deps.Scorer.Score(ctx, pkt)
	cancel()

	attack := s.source.Mode()
	calib, hasCalib := s.deps.Thresholds.CalibratedThreshold()

	s.mu.Lock()

	// Learning happens before classification, so a packet is judged
	// against a baseline that already includes it.
	anomaly := false
	if scored {
		if !attack {
			s.est.Learn(score)
		} else if !s.est.WarmedUp() && hasCalib && score >= calib {
			s.est.Learn(score)
		}

		anomaly = s.est.IsAnomaly(score)
		if !anomaly && !s.est.WarmedUp() && hasCalib && score < calib {
			anomaly = true
		}
	}

	rec := model.Record{
		Packet:        pkt,
		Scored:        scored,
		IsAnomaly:     anomaly,
		SourceCountry: model.CountryForIP(pkt.SourceIP),
	}
	if scored {
		sc := score
		rec.AnomalyScore = &sc
	}
	if anomaly {
		rec.AttackVector = model.ClassifyAttackVector(pkt.Method, pkt.Bytes)
	}

	snap := s.est.Snapshot()
	rec.AnomalyThreshold = snap.Threshold
	rec.AnomalyMean = snap.Mean
	rec.AnomalyStdDev = snap.StdDev
	rec.AnomalyBaselineN = snap.BaselineN
	rec.AnomalyWarmedUp = snap.WarmedUp

	s.packets++
	if anomaly {
		s.threats++
	}
	rec.SessionTotalPackets = s.packets
	rec.SessionTotalThreats = s.threats
	rec.SessionStartedAt = s.startedAt

	// Publish under the lock so every subscriber observes records in the
	// same order they were classified.
	for _, sub := range s.subs {
		select {
		case sub.C <- rec:
		default:
			if s.deps.Metrics != nil {
				s.deps.Metrics.PublishDrops.Inc()
			}
			s.deps.Logger.Debugf("Dropping record for slow subscriber %s (owner %s)", sub.ID, s.owner)
		}
	}

	cooldown := s.deps.AlertCooldown
	if cooldown <= 0 {
		cooldown = defaultAlertCooldown
	}
	fireAlert := anomaly && time.Since(s.lastAlert) >= cooldown
	if fireAlert {
		s.lastAlert = time.Now()
	}

	s.mu.Unlock()

	if s.deps.Metrics != nil {
		mode := "normal"
		if attack {
			mode = "attack"
		}
		s.deps.Metrics.PacketsProcessed.WithLabelValues(mode).Inc()
		outcome := metrics.OutcomeAbsent
		if scored {
			outcome = metrics.OutcomeScored
		}
		s.deps.Metrics.ScoreRequests.WithLabelValues(outcome).Inc()
		if anomaly {
			s.deps.Metrics.ThreatsDetected.WithLabelValues(rec.AttackVector).Inc()
		}
	}

	if err := s.deps.Store.Append(context.Background(), rec); err != nil {
		s.deps.Logger.Warnf("Failed to persist record %s: %v", rec.ID, err)
	}

	if fireAlert && s.deps.Notifier != nil {
		a := model.Alert{
			OwnerID:   s.owner,
			Severity:  "critical",
			Message:   fmt.Sprintf("anomalous %s traffic to port %d (%s vector)", pkt.Protocol, pkt.DestPort, rec.AttackVector),
			SourceIP:  pkt.SourceIP,
			Score:     rec.AnomalyScore,
			Timestamp: pkt.Timestamp,
		}
		if err := s.deps.Notifier.SendAlert(a); err != nil {
			s.deps.Logger.Warnf("Failed to send alert for owner %s: %v", s.owner, err)
		}
	}
}

func (s *Stream) attach(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	if s.deps.Metrics != nil {
		s.deps.Metrics.Subscribers.Inc()
	}
}

// detach removes a subscriber and reports how many remain. Unknown IDs are
// a no-op.
func (s *Stream) detach(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
		close(sub.C)
		if s.deps.Metrics != nil {
			s.deps.Metrics.Subscribers.Dec()
		}
	}
	return len(s.subs)
}

func (s *Stream) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		OwnerID:     s.owner,
		Active:      true,
		AttackMode:  s.source.Mode(),
		Subscribers: len(s.subs),
		Packets:     s.packets,
		Threats:     s.threats,
		StartedAt:   s.startedAt,
		Baseline:    s.est.Snapshot(),
	}
}
