package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/riskguard/events"
	"github.com/rustyeddy/riskguard/metrics"
)

type Config struct {
	// QueueSize bounds the retry queue; the oldest entry is dropped when full.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// IntakeSize buffers events observed from the bus.
	IntakeSize int `yaml:"intake_size" json:"intake_size"`
	// RetryBackoff is the pause after a failed retry.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	// RetryInterval retries a stranded backlog even when nothing new
	// arrives; 0 disables it.
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`
	// Retention is how long entries are kept by scheduled cleanup.
	Retention time.Duration `yaml:"retention" json:"retention"`
}

func DefaultConfig() Config {
	return Config{
		QueueSize:     1000,
		IntakeSize:    256,
		RetryBackoff:  time.Second,
		RetryInterval: 30 * time.Second,
		Retention:     90 * 24 * time.Hour,
	}
}

type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Service appends entries to a Store. Writes that fail are queued and
// retried by Run; callers never see storage errors.
type Service struct {
	store   Store
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	intake chan Entry
	kick   chan struct{}

	mu      sync.Mutex
	queue   []Entry
	dropped int64
}

func NewService(store Store, cfg Config, opts Options) *Service {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IntakeSize <= 0 {
		cfg.IntakeSize = def.IntakeSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		log:     opts.Logger.With().Str("component", "AuditLog").Logger(),
		metrics: opts.Metrics,
		now:     time.Now,
		intake:  make(chan Entry, cfg.IntakeSize),
		kick:    make(chan struct{}, 1),
	}
}

// prepare fills defaults and redacts details.
func (s *Service) prepare(e Entry) (Entry, error) {
	if !e.EventType.Valid() {
		return Entry{}, fmt.Errorf("unknown audit event type %q", e.EventType)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.ID == "" {
		e.ID = NewID(e.Timestamp)
	}
	if e.Category == "" {
		e.Category = eventCategories[e.EventType]
	}
	if e.Severity == "" {
		e.Severity = Info
	}
	e.Details = Redact(e.Details)
	return e, nil
}

// Log appends e now, queueing it for retry if the store fails. The
// returned entry carries the assigned ID.
func (s *Service) Log(ctx context.Context, e Entry) (Entry, error) {
	e, err := s.prepare(e)
	if err != nil {
		return Entry{}, err
	}
	s.write(ctx, e)
	return e, nil
}

// Observe takes an event from the bus without blocking. It is a
// events.Handler.
func (s *Service) Observe(ev events.Event) {
	e, err := s.prepare(FromEvent(ev))
	if err != nil {
		s.log.Error().Err(err).Str("event", string(ev.Type)).Msg("drop unauditable event")
		return
	}
	select {
	case s.intake <- e:
	default:
		s.enqueue(e)
	}
}

func (s *Service) write(ctx context.Context, e Entry) {
	if err := s.store.Append(ctx, e); err != nil {
		s.metrics.AuditWrite(false)
		s.log.Warn().Err(err).Str("id", e.ID).Str("event", string(e.EventType)).Msg("audit write failed, queued for retry")
		s.enqueue(e)
		return
	}
	s.metrics.AuditWrite(true)
}

func (s *Service) enqueue(e Entry) {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.QueueSize {
		old := s.queue[0]
		s.queue = s.queue[1:]
		s.dropped++
		s.metrics.AuditDrop()
		s.log.Warn().
			Str("id", old.ID).
			Str("event", string(old.EventType)).
			Int("queue_size", s.cfg.QueueSize).
			Msg("audit retry queue full, dropped oldest entry")
	}
	s.queue = append(s.queue, e)
	s.metrics.SetAuditQueueDepth(len(s.queue))
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// retryHead pops the oldest queued entry and appends it. On failure the
// entry goes back to the front and retryHead reports false.
func (s *Service) retryHead(ctx context.Context) (more bool, ok bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false, true
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	if err := s.store.Append(ctx, e); err != nil {
		s.metrics.AuditWrite(false)
		s.mu.Lock()
		if len(s.queue) >= s.cfg.QueueSize {
			s.dropped++
			s.metrics.AuditDrop()
			s.log.Warn().Str("id", e.ID).Msg("audit retry queue full, dropped oldest entry")
		} else {
			s.queue = append([]Entry{e}, s.queue...)
		}
		s.metrics.SetAuditQueueDepth(len(s.queue))
		s.mu.Unlock()
		s.log.Debug().Err(err).Str("id", e.ID).Msg("audit retry failed")
		return true, false
	}

	s.metrics.AuditWrite(true)
	s.mu.Lock()
	n := len(s.queue)
	s.metrics.SetAuditQueueDepth(n)
	s.mu.Unlock()
	return n > 0, true
}

// drain retries queued entries until the queue empties or a write fails.
func (s *Service) drain(ctx context.Context) bool {
	for {
		more, ok := s.retryHead(ctx)
		if !ok {
			return false
		}
		if !more {
			return true
		}
		if ctx.Err() != nil {
			return true
		}
	}
}

// Run writes observed events and drains the retry queue until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	var interval <-chan time.Time
	if s.cfg.RetryInterval > 0 {
		t := time.NewTicker(s.cfg.RetryInterval)
		defer t.Stop()
		interval = t.C
	}
	var backoff <-chan time.Time

	retry := func() {
		if !s.drain(ctx) {
			backoff = time.After(s.cfg.RetryBackoff)
		}
	}

	s.log.Debug().Msg("audit loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-s.intake:
			s.write(ctx, e)
		case <-s.kick:
			if backoff == nil {
				retry()
			}
		case <-backoff:
			backoff = nil
			retry()
		case <-interval:
			if backoff == nil {
				retry()
			}
		}
	}
}

// Close writes whatever is still buffered or queued, once. Call it after
// Run has returned.
func (s *Service) Close(ctx context.Context) error {
	for empty := false; !empty; {
		select {
		case e := <-s.intake:
			s.write(ctx, e)
		default:
			empty = true
		}
	}
	s.drain(ctx)

	if n := s.Pending(); n > 0 {
		s.log.Error().Int("pending", n).Msg("audit entries not persisted at shutdown")
		return fmt.Errorf("audit: %d entries not persisted", n)
	}
	return nil
}

// Pending is the number of entries not yet written.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.intake)
}

// Dropped is the number of entries lost to queue overflow.
func (s *Service) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, error) {
	return s.store.Query(ctx, f)
}

// Cleanup removes entries older than the given age; age <= 0 uses the
// configured retention.
func (s *Service) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = s.cfg.Retention
	}
	if age <= 0 {
		return 0, errors.New("audit: no retention configured")
	}
	cutoff := s.now().Add(-age)
	n, err := s.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("audit cleanup")
	return n, nil
}
