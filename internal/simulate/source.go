package simulate

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tracel-engine/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Traffic shape constants. The normal profile mirrors what the scoring
// model was trained on: mostly HTTP/TCP to well-known ports with small,
// low-entropy payloads. The attack profile is a mixed flood: UDP/ICMP
// heavy, high entropy, suspicious ports, concentrated origins.
var (
	normalPorts = []int{80, 443, 8080}
	attackPorts = []int{23, 53, 123, 445, 3389, 1900, 4444}

	normalMethods = []string{"GET", "GET", "GET", "POST", "PUT"}
	attackMethods = []string{"POST", "POST", "PUT", "PATCH", "DELETE"}
)

const botnetSize = 6

// Config tunes a packet source.
type Config struct {
	NormalInterval time.Duration // emission period in normal mode
	AttackInterval time.Duration // emission period in attack mode
	DestIP         string
}

func (c Config) withDefaults() Config {
	if c.NormalInterval <= 0 {
		c.NormalInterval = 400 * time.Millisecond
	}
	if c.AttackInterval <= 0 {
		c.AttackInterval = 120 * time.Millisecond
	}
	if c.DestIP == "" {
		c.DestIP = "10.0.0.1"
	}
	return c
}

// Source produces an infinite sequence of synthetic packets for one owner.
// Emission runs on a self-rescheduling timer; the interval and packet shape
// are re-derived from the mode flag on every emission, so a mode switch is
// observable by the very next packet.
type Source struct {
	owner string
	cfg   Config

	mu     sync.Mutex
	attack bool
	rng    *rand.Rand
	botnet []string

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	logger *logrus.Logger
}

// NewSource creates a stopped source. Start begins emission.
func NewSource(owner string, cfg Config, logger *logrus.Logger) *Source {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	botnet := make([]string, botnetSize)
	for i := range botnet {
		botnet[i] = fmt.Sprintf("%d.%d.%d.%d",
			rng.Intn(224)+1, rng.Intn(256), rng.Intn(256), rng.Intn(254)+1)
	}
	return &Source{
		owner:  owner,
		cfg:    cfg.withDefaults(),
		rng:    rng,
		botnet: botnet,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// SetMode switches between normal and attack traffic. Takes effect on the
// next emission, never retroactively.
func (s *Source) SetMode(attack bool) {
	s.mu.Lock()
	changed := s.attack != attack
	s.attack = attack
	s.mu.Unlock()

	if changed {
		s.logger.Infof("Source for owner %s switched to attack=%v", s.owner, attack)
	}
}

// Mode reports the current mode flag.
func (s *Source) Mode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attack
}

// Start launches the emission loop. emit is called from the loop goroutine
// for every packet. Calling Start more than once has no effect.
func (s *Source) Start(emit func(model.Packet)) {
	s.startOnce.Do(func() {
		go s.run(emit)
	})
}

// Stop halts emission. It is idempotent and safe to call from any
// goroutine; when it returns no further emit calls will be observed. A
// Stop before Start leaves the source permanently stopped.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.startOnce.Do(func() {
		close(s.done)
	})
	<-s.done
}

func (s *Source) run(emit func(model.Packet)) {
	defer close(s.done)

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
			// Re-check stop so a Stop that raced the timer fire still
			// suppresses the emission.
			select {
			case <-s.stop:
				return
			default:
			}
			emit(s.next())
			timer.Reset(s.interval())
		}
	}
}

func (s *Source) interval() time.Duration {
	base := s.cfg.NormalInterval
	if s.Mode() {
		base = s.cfg.AttackInterval
	}
	// +-25% jitter keeps the stream from looking metronomic.
	jitter := time.Duration(s.rng.Int63n(int64(base)/2+1)) - base/4
	return base + jitter
}

// next builds one packet according to the current mode.
func (s *Source) next() model.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkt := model.Packet{
		ID:        uuid.New().String(),
		OwnerID:   s.owner,
		DestIP:    s.cfg.DestIP,
		Timestamp: time.Now().UTC(),
	}

	if s.attack {
		pkt.SourceIP = s.botnet[s.rng.Intn(len(s.botnet))]
		pkt.Protocol = pickWeighted(s.rng, []string{"UDP", "ICMP", "TCP", "HTTP"}, []float64{0.45, 0.25, 0.20, 0.10})
		pkt.Entropy = 0.80 + s.rng.Float64()*0.20
		if s.rng.Float64() < 0.85 {
			pkt.DestPort = attackPorts[s.rng.Intn(len(attackPorts))]
		} else {
			pkt.DestPort = s.rng.Intn(65535) + 1
		}
		if s.rng.Float64() < 0.55 {
			pkt.Bytes = 80 + s.rng.Intn(1121)
		} else {
			pkt.Bytes = 1000 + s.rng.Intn(49001)
		}
		if pkt.Protocol == "HTTP" {
			pkt.Method = attackMethods[s.rng.Intn(len(attackMethods))]
		}
		return pkt
	}

	pkt.SourceIP = fmt.Sprintf("%d.%d.%d.%d",
		s.rng.Intn(224)+1, s.rng.Intn(256), s.rng.Intn(256), s.rng.Intn(254)+1)
	pkt.Protocol = pickWeighted(s.rng, []string{"HTTP", "TCP", "UDP", "ICMP"}, []float64{0.55, 0.35, 0.07, 0.03})
	pkt.DestPort = normalPorts[s.rng.Intn(len(normalPorts))]
	pkt.Bytes = 150 + s.rng.Intn(801)
	pkt.Entropy = 0.10 + s.rng.Float64()*0.40
	if pkt.Protocol == "HTTP" {
		pkt.Method = normalMethods[s.rng.Intn(len(normalMethods))]
	}
	return pkt
}

func pickWeighted(rng *rand.Rand, values []string, weights []float64) string {
	r := rng.Float64()
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return values[i]
		}
	}
	return values[len(values)-1]
}
