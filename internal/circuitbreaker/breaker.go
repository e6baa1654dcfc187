// Package circuitbreaker guards calls to the payment provider. Circuits are
// keyed by operation so a failing refund endpoint does not block checkout.
package circuitbreaker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// State of one circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wiredan",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key and target state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

// Config tunes a Breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens a circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects calls before probing.
	Cooldown time.Duration
	// ProbeTimeout frees the half-open slot when a probe never reports
	// back. Defaults to Cooldown.
	ProbeTimeout time.Duration
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(key string, from, to State)
}

type circuit struct {
	state     State
	failures  int
	openedAt  time.Time
	probeSent time.Time
}

// Breaker holds one circuit per key.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New returns a breaker that opens after threshold consecutive failures
// and probes again after cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	return NewWithConfig(Config{Threshold: threshold, Cooldown: cooldown})
}

// NewWithConfig returns a breaker with defaults filled in for zero fields.
func NewWithConfig(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = cfg.Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now, circuits: make(map[string]*circuit)}
}

type change struct {
	key      string
	from, to State
}

func (b *Breaker) notify(ch *change) {
	if ch != nil && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(ch.key, ch.from, ch.to)
	}
}

// Execute runs fn when key's circuit admits it. countable picks which
// errors count against the circuit; nil counts every error. Errors that do
// not count are treated as a healthy round trip.
func (b *Breaker) Execute(key string, countable func(error) bool, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return err
}

// Allow reports whether a call for key may go ahead. An open circuit past
// its cooldown moves to half-open and admits a single probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return true
	}

	now := b.now()
	var ch *change
	allowed := true
	switch c.state {
	case StateOpen:
		if now.Sub(c.openedAt) < b.cfg.Cooldown {
			allowed = false
			break
		}
		ch = b.move(c, key, StateHalfOpen)
		c.probeSent = now
	case StateHalfOpen:
		if now.Sub(c.probeSent) < b.cfg.ProbeTimeout {
			allowed = false
			break
		}
		c.probeSent = now
	}
	b.mu.Unlock()

	b.notify(ch)
	return allowed
}

// RecordSuccess clears key's failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	var ch *change
	if ok {
		c.failures = 0
		if c.state != StateClosed {
			ch = b.move(c, key, StateClosed)
		}
	}
	b.mu.Unlock()

	b.notify(ch)
}

// RecordFailure counts a failure. A failed probe reopens the circuit at
// once; a closed circuit opens when the threshold is reached.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	var ch *change
	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.cfg.Threshold) {
		ch = b.move(c, key, StateOpen)
		c.openedAt = b.now()
	}
	b.mu.Unlock()

	b.notify(ch)
}

// State returns key's state. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// OpenKeys lists, in order, the keys whose circuit is not closed.
func (b *Breaker) OpenKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k, c := range b.circuits {
		if c.state != StateClosed {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// move must be called with b.mu held.
func (b *Breaker) move(c *circuit, key string, to State) *change {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	transitions.WithLabelValues(key, from.String(), to.String()).Inc()
	return &change{key: key, from: from, to: to}
}
