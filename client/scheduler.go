package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Trigger records why a renewal attempt started.
type Trigger int

const (
	TriggerScheduled Trigger = iota
	TriggerForced
	TriggerRetry
)

func (t Trigger) String() string {
	switch t {
	case TriggerScheduled:
		return "scheduled"
	case TriggerForced:
		return "forced"
	case TriggerRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// SchedulerConfig controls a [TokenScheduler].
type SchedulerConfig struct {
	RenewalBuffer    time.Duration
	RetryDelay       time.Duration
	MaxRetryAttempts int
	RenewTimeout     time.Duration

	Logger *zap.Logger
	Clock  clockwork.Clock

	// OnRenewed and OnRenewalFailed run on the renewal goroutine with no
	// scheduler lock held.
	OnRenewed       func(Lease, Trigger)
	OnRenewalFailed func(error)
}

// Validate checks the timing fields of c.
func (c SchedulerConfig) Validate() error {
	if c.RenewalBuffer < 0 {
		return errors.New("RenewalBuffer must be >= 0")
	}
	if c.RetryDelay <= 0 {
		return errors.New("RetryDelay must be > 0")
	}
	if c.MaxRetryAttempts <= 0 {
		return errors.New("MaxRetryAttempts must be > 0")
	}
	if c.RenewTimeout <= 0 {
		return errors.New("RenewTimeout must be > 0")
	}
	return nil
}

// TokenScheduler holds the current realtime token and renews it
// RenewalBuffer before expiry. At most one issuer call is in flight; a
// renewal requested meanwhile is dropped.
type TokenScheduler struct {
	issuer Issuer
	cfg    SchedulerConfig
	logger *zap.Logger
	clock  clockwork.Clock
	retry  backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool

	mu         sync.Mutex
	forceHeld  bool
	lease      Lease
	hasLease   bool
	retryCount int
	nextAt     time.Time
	timer      clockwork.Timer
	gen        uint64
	stopped    bool
}

// NewTokenScheduler returns a scheduler with no token.
func NewTokenScheduler(issuer Issuer, cfg SchedulerConfig) (*TokenScheduler, error) {
	if issuer == nil {
		return nil, ErrNoIssuer
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TokenScheduler{
		issuer: issuer,
		cfg:    cfg,
		logger: cfg.Logger.Named("token_scheduler"),
		clock:  cfg.Clock,
		retry:  backoff.NewConstantBackOff(cfg.RetryDelay),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Initialize installs token and schedules its renewal. A token already
// inside the renewal buffer is renewed immediately.
func (s *TokenScheduler) Initialize(token string, expiresAt time.Time) error {
	if strings.TrimSpace(token) == "" {
		return ErrLeaseInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}

	s.gen++
	s.stopTimerLocked()
	s.lease = Lease{Token: token, ExpiresAt: expiresAt}
	s.hasLease = true
	s.retryCount = 0
	s.retry.Reset()
	s.scheduleLocked(false)
	return nil
}

// Current returns the token while it is unexpired.
func (s *TokenScheduler) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLease || !s.clock.Now().Before(s.lease.ExpiresAt) {
		return "", false
	}
	return s.lease.Token, true
}

// Lease returns the held lease, expired or not.
func (s *TokenScheduler) Lease() (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease, s.hasLease
}

// NextRenewal returns when the pending renewal timer fires.
func (s *TokenScheduler) NextRenewal() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAt, s.timer != nil
}

// RetryCount returns the failed attempts of the current renewal cycle.
func (s *TokenScheduler) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// InFlight reports whether an issuer call is running.
func (s *TokenScheduler) InFlight() bool {
	return s.inFlight.Load()
}

// ForceRenewal starts a renewal now with a fresh retry budget. It returns
// false when a renewal is already in flight; the request is then held, and
// the running renewal restarts as forced if its result is discarded or
// failed. Either OnRenewed or OnRenewalFailed follows a held request.
func (s *TokenScheduler) ForceRenewal() bool {
	s.mu.Lock()
	gen, stopped := s.gen, s.stopped
	s.mu.Unlock()
	if stopped {
		return false
	}
	if s.start(gen, TriggerForced) {
		return true
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	// inFlight is only released under mu, so a held request is always seen.
	if s.inFlight.Load() {
		s.forceHeld = true
		s.mu.Unlock()
		return false
	}
	gen = s.gen
	s.mu.Unlock()
	return s.start(gen, TriggerForced)
}

// Clear discards the token and cancels pending renewals. A renewal already
// in flight completes without effect.
func (s *TokenScheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Stop clears the scheduler and makes every later call a no-op.
func (s *TokenScheduler) Stop() {
	s.mu.Lock()
	s.clearLocked()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

func (s *TokenScheduler) clearLocked() {
	s.gen++
	s.forceHeld = false
	s.stopTimerLocked()
	s.lease = Lease{}
	s.hasLease = false
	s.retryCount = 0
	s.retry.Reset()
}

func (s *TokenScheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextAt = time.Time{}
}

// scheduleLocked arms the renewal timer for the current lease. After a
// renewal the timer is kept strictly before expiry even when the new token
// is already inside the buffer, so a short TTL cannot spin the issuer.
func (s *TokenScheduler) scheduleLocked(afterRenewal bool) {
	now := s.clock.Now()
	delay := s.lease.ExpiresAt.Add(-s.cfg.RenewalBuffer).Sub(now)
	if delay <= 0 {
		if !afterRenewal {
			gen := s.gen
			go s.start(gen, TriggerScheduled)
			return
		}
		delay = s.lease.ExpiresAt.Sub(now) / 2
	}
	s.armLocked(delay, TriggerScheduled)
}

func (s *TokenScheduler) armLocked(delay time.Duration, trigger Trigger) {
	gen := s.gen
	s.nextAt = s.clock.Now().Add(delay)
	s.timer = s.clock.AfterFunc(delay, func() {
		s.start(gen, trigger)
	})
}

func (s *TokenScheduler) start(gen uint64, trigger Trigger) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("renewal dropped, another is in flight", zap.Stringer("trigger", trigger))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || gen != s.gen {
		s.inFlight.Store(false)
		return false
	}
	s.launchLocked(trigger)
	return true
}

// launchLocked runs the issuer for the current generation. The caller owns
// the in-flight flag.
func (s *TokenScheduler) launchLocked(trigger Trigger) {
	if trigger == TriggerForced {
		s.retryCount = 0
		s.retry.Reset()
	}
	s.stopTimerLocked()
	go s.run(s.gen, trigger)
}

func (s *TokenScheduler) run(gen uint64, trigger Trigger) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RenewTimeout)
	lease, err := s.issuer.Renew(ctx)
	cancel()

	s.mu.Lock()
	held := s.forceHeld
	s.forceHeld = false
	if s.stopped || gen != s.gen {
		if held && !s.stopped {
			s.logger.Debug("discarded renewal for a cleared token, starting held request")
			s.launchLocked(TriggerForced)
			s.mu.Unlock()
			return
		}
		s.inFlight.Store(false)
		s.mu.Unlock()
		return
	}

	if err == nil {
		err = s.checkLeaseLocked(lease)
	}

	if err == nil {
		s.lease = lease
		s.hasLease = true
		s.retryCount = 0
		s.retry.Reset()
		s.scheduleLocked(true)
		s.inFlight.Store(false)
		s.mu.Unlock()

		s.logger.Debug("token renewed",
			zap.Stringer("trigger", trigger),
			zap.Time("expires_at", lease.ExpiresAt))
		if s.cfg.OnRenewed != nil {
			s.cfg.OnRenewed(lease, trigger)
		}
		return
	}

	if held {
		s.logger.Warn("token renewal failed, starting held forced renewal",
			zap.Stringer("trigger", trigger),
			zap.Error(err))
		s.launchLocked(TriggerForced)
		s.mu.Unlock()
		return
	}

	s.retryCount++
	if s.retryCount < s.cfg.MaxRetryAttempts {
		delay := s.retry.NextBackOff()
		s.armLocked(delay, TriggerRetry)
		attempt := s.retryCount
		s.inFlight.Store(false)
		s.mu.Unlock()

		s.logger.Warn("token renewal failed, retrying",
			zap.Stringer("trigger", trigger),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		return
	}

	attempts := s.retryCount
	s.clearLocked()
	s.inFlight.Store(false)
	s.mu.Unlock()

	s.logger.Error("token renewal exhausted", zap.Int("attempts", attempts), zap.Error(err))
	if s.cfg.OnRenewalFailed != nil {
		s.cfg.OnRenewalFailed(fmt.Errorf("%w after %d attempts: %v", ErrRenewalExhausted, attempts, err))
	}
}

func (s *TokenScheduler) checkLeaseLocked(lease Lease) error {
	if strings.TrimSpace(lease.Token) == "" {
		return ErrLeaseInvalid
	}
	if !lease.ExpiresAt.After(s.clock.Now()) {
		return fmt.Errorf("%w: already expired", ErrLeaseInvalid)
	}
	if s.hasLease && !lease.ExpiresAt.After(s.lease.ExpiresAt) {
		return ErrExpiryNotExtended
	}
	return nil
}
