package expiry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"penwatch/internal/push"
	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

type Config struct {
	Enabled bool

	// SendTime is the daily trigger time "HH:MM" (scheduler timezone).
	SendTime string
	Timezone string

	RunTimeout  time.Duration
	RatePerSec  int
	DedupWindow time.Duration
}

// RunReport summarizes one batch pass, kept in a bounded history ring.
type RunReport struct {
	Started     time.Time
	Duration    time.Duration
	ActiveUsers int
	Notified    int
	Sent        int
	Error       string
}

// Service is the batch orchestrator. Each Run is one pass:
// eligibility scan, then per-user policy evaluation, expiry matching and
// dispatch. Runs hold no state across invocations.
type Service struct {
	mu  sync.Mutex
	cfg Config

	st     store.Store
	sender push.Sender
	log    logx.Logger

	disp *Dispatcher

	// now is swappable for tests.
	now func() time.Time

	hmu     sync.Mutex
	history []RunReport
}

func New(cfg Config, st store.Store, sender push.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		st:     st,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.SendTime == "" {
		cfg.SendTime = DefaultSendTime
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	s.cfg = cfg
	s.disp = NewDispatcher(s.sender, s.st, cfg.RatePerSec, cfg.DedupWindow, s.log)
}

// Run performs one batch pass. An eligibility-scan failure ends the run with
// an error (the next scheduled trigger retries independently); a failure
// inside one user's processing is caught and the pass continues with the
// next user.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	disp := s.disp
	s.mu.Unlock()

	now := s.now()
	started := now
	s.log.Info("expiring-pension check started")

	users, err := s.st.QueryActiveSince(ctx, now.Add(-ActiveWindow))
	if err != nil {
		err = fmt.Errorf("eligibility scan: %w", err)
		s.log.Error("run aborted", logx.Err(err))
		s.record(RunReport{Started: started, Duration: time.Since(started), Error: err.Error()})
		return err
	}
	if len(users) == 0 {
		s.log.Info("no active users in the last 48 hours")
		s.record(RunReport{Started: started, Duration: time.Since(started)})
		return nil
	}
	s.log.Info("active users selected", logx.Int("count", len(users)))

	notified, sent := 0, 0
	for i, u := range users {
		if ctx.Err() != nil {
			// Truncation drops the remaining users for this run; the matcher
			// is exact-date so they simply miss today's notification.
			s.log.Warn("run truncated", logx.Int("remaining", len(users)-i))
			break
		}
		n := s.processUser(ctx, disp, u, now)
		if n > 0 {
			notified++
			sent += n
		}
	}

	s.log.Info("expiring-pension check completed",
		logx.Int("users", len(users)), logx.Int("notified", notified), logx.Int("sent", sent))
	s.record(RunReport{
		Started:     started,
		Duration:    time.Since(started),
		ActiveUsers: len(users),
		Notified:    notified,
		Sent:        sent,
	})
	return nil
}

// processUser runs the per-user pipeline and returns the number of multicasts
// sent. All failures (including panics) are contained to this user.
func (s *Service) processUser(ctx context.Context, disp *Dispatcher, u store.UserRef, now time.Time) (sent int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic processing user",
				logx.String("user", u.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			sent = 0
		}
	}()

	ulog := s.log.With(logx.String("user", u.Email))

	pol, err := ResolvePolicy(ctx, s.st, u.ID)
	if err != nil {
		ulog.Warn("policy lookup failed; skipping user", logx.Err(err))
		return 0
	}

	d := Evaluate(pol, now)
	if d.EvalErr != nil {
		ulog.Warn("active hours unparseable; allowing", logx.Err(d.EvalErr))
	}
	if !d.Proceed {
		ulog.Debug("skipping user", logx.String("reason", d.Reason))
		return 0
	}

	tok, ok, err := s.st.GetToken(ctx, u.ID)
	if err != nil {
		ulog.Warn("token lookup failed; skipping user", logx.Err(err))
		return 0
	}
	if !ok || tok.Token == "" {
		ulog.Debug("no device token registered")
		return 0
	}

	daysBefore := pol.DaysBefore
	targetDate := TargetDate(now, daysBefore)

	pensions, err := MatchExpiring(ctx, s.st, targetDate)
	if err != nil {
		ulog.Warn("expiry match failed; skipping user", logx.Err(err))
		return 0
	}
	if len(pensions) == 0 {
		ulog.Debug("no pensions expiring", logx.String("target", targetDate))
		return 0
	}

	return disp.Dispatch(ctx, u, []string{tok.Token}, pensions, daysBefore, targetDate)
}

// RunJob adapts Run for the cron scheduler, bounding each pass with the
// configured timeout.
func (s *Service) RunJob(ctx context.Context) error {
	s.mu.Lock()
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Run(rctx)
}

func (s *Service) record(r RunReport) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > 50 {
		s.history = s.history[len(s.history)-50:]
	}
}

// History returns recent run reports, oldest first.
func (s *Service) History() []RunReport {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]RunReport, len(s.history))
	copy(out, s.history)
	return out
}
