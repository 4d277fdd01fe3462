// Package trigger decides when a digest is rendered and delivered, and
// guarantees single delivery per firing.
package trigger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"briefbot/internal/digest"
	logx "briefbot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	src WindowSource
	rnd Renderer
	out Delivery
	ka  Keepalive // may be nil

	parser  cron.Parser
	c       *cron.Cron
	entryID cron.EntryID

	hourTimer *time.Timer
	nextFire  time.Time

	onceTimer *time.Timer

	kaStop chan struct{}

	running  bool
	inFlight bool

	last Result

	// now is injectable for tests.
	now func() time.Time
}

func New(cfg Config, src WindowSource, rnd Renderer, out Delivery, ka Keepalive, log logx.Logger) *Service {
	if cfg.EmptyWindow == "" {
		cfg.EmptyWindow = EmptySkip
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		src: src,
		rnd: rnd,
		out: out,
		ka:  ka,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.startSchedulingLocked(); err != nil {
		return err
	}
	s.running = true
	s.log.Info("trigger started",
		logx.Bool("enabled", s.cfg.Enabled),
		logx.String("mode", string(s.cfg.Mode)),
		logx.Time("next_fire", s.nextFireLocked()))
	return nil
}

// Stop cancels the cron runner, the fixed-hour timer, any pending one-shot,
// and the keepalive tick. It does not touch the gateway session.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopSchedulingLocked()
	if s.onceTimer != nil {
		s.onceTimer.Stop()
		s.onceTimer = nil
	}
	s.running = false
	s.log.Info("trigger stopped")
}

// Apply swaps the trigger configuration at runtime (config hot-reload).
func (s *Service) Apply(cfg Config) error {
	if cfg.EmptyWindow == "" {
		cfg.EmptyWindow = EmptySkip
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.cfg = cfg
		return nil
	}
	s.stopSchedulingLocked()
	s.cfg = cfg
	return s.startSchedulingLocked()
}

func (s *Service) Enable() {
	s.mu.Lock()
	s.cfg.Enabled = true
	s.mu.Unlock()
	s.log.Info("trigger enabled")
}

func (s *Service) Disable() {
	s.mu.Lock()
	s.cfg.Enabled = false
	s.mu.Unlock()
	s.log.Info("trigger disabled")
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// NextFire reports the next scheduled firing time (zero if none).
func (s *Service) NextFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFireLocked()
}

// Last returns the most recent firing outcome.
func (s *Service) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunNow renders and delivers a digest immediately, regardless of the enabled
// flag. Operator escape hatch; scheduling state is untouched.
func (s *Service) RunNow(ctx context.Context) error {
	return s.run(ctx, "manual", false)
}

// EnableOnce arms the one-shot trigger: the trigger is enabled, fires exactly
// once after delay, then disables itself.
func (s *Service) EnableOnce(delay time.Duration) {
	s.mu.Lock()
	s.cfg.Enabled = true
	if s.onceTimer != nil {
		s.onceTimer.Stop()
	}
	s.onceTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.onceTimer = nil
		s.mu.Unlock()

		_ = s.run(context.Background(), "oneshot", true)

		// Self-disable after exactly one firing.
		s.mu.Lock()
		s.cfg.Enabled = false
		s.mu.Unlock()
	})
	s.mu.Unlock()
	s.log.Info("one-shot digest armed", logx.Duration("delay", delay))
}

// ---- scheduling internals ----

func (s *Service) startSchedulingLocked() error {
	switch s.cfg.Mode {
	case ModeCron:
		spec := strings.TrimSpace(s.cfg.Schedule)
		if spec == "" {
			return errors.New("trigger: schedule required for cron mode")
		}
		c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
		id, err := c.AddFunc(spec, func() { _ = s.run(context.Background(), "cron", true) })
		if err != nil {
			return err
		}
		s.c = c
		s.entryID = id
		c.Start()

	case ModeHour, "":
		s.scheduleHourLocked()

	default:
		return errors.New("trigger: unknown mode " + string(s.cfg.Mode))
	}

	if s.cfg.KeepaliveInterval > 0 && s.ka != nil {
		stop := make(chan struct{})
		s.kaStop = stop
		go s.keepaliveLoop(s.cfg.KeepaliveInterval, stop)
	}
	return nil
}

func (s *Service) stopSchedulingLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	if s.hourTimer != nil {
		s.hourTimer.Stop()
		s.hourTimer = nil
	}
	s.nextFire = time.Time{}
	if s.kaStop != nil {
		close(s.kaStop)
		s.kaStop = nil
	}
}

// scheduleHourLocked arms the timer for the next occurrence of the target
// hour. Rescheduling after a firing always moves strictly forward.
func (s *Service) scheduleHourLocked() {
	next := NextFixedHour(s.now(), s.cfg.Hour)
	s.nextFire = next
	if s.hourTimer != nil {
		s.hourTimer.Stop()
	}
	s.hourTimer = time.AfterFunc(next.Sub(s.now()), func() {
		_ = s.run(context.Background(), "hour", true)

		s.mu.Lock()
		if s.running && (s.cfg.Mode == ModeHour || s.cfg.Mode == "") {
			s.scheduleHourLocked()
		}
		s.mu.Unlock()
	})
}

func (s *Service) nextFireLocked() time.Time {
	if s.c != nil {
		if e := s.c.Entry(s.entryID); e.ID != 0 {
			return e.Next
		}
	}
	return s.nextFire
}

func (s *Service) keepaliveLoop(interval time.Duration, stop chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.ka.EnsureConnected(ctx); err != nil {
				s.log.Warn("keepalive reconnect failed", logx.Err(err))
			}
			cancel()
		}
	}
}

// ---- firing ----

// run performs one digest cycle. scheduled firings honor the enabled flag;
// manual runs do not. At most one cycle is in flight at a time.
func (s *Service) run(ctx context.Context, reason string, scheduled bool) error {
	s.mu.Lock()
	if scheduled && !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Debug("trigger disabled; firing skipped", logx.String("reason", reason))
		return nil
	}
	if s.inFlight {
		s.mu.Unlock()
		s.log.Warn("previous digest still in flight; firing skipped", logx.String("reason", reason))
		return nil
	}
	s.inFlight = true
	emptyBehavior := s.cfg.EmptyWindow
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	runID := uuid.NewString()
	log := s.log.With(logx.String("run_id", runID), logx.String("reason", reason))
	started := s.now()

	window := s.src.WindowDuration()
	now := s.now()
	s.src.Prune(now, window)
	events := s.src.Window(now, window)

	res := Result{RunID: runID, At: now, Events: len(events)}

	var text string
	if len(events) == 0 {
		if emptyBehavior != EmptyNotify {
			log.Info("empty window; digest skipped")
			res.Skipped = true
			s.setLast(res, started)
			return nil
		}
		text = s.rnd.RenderEmpty(window)
	} else {
		text = s.rnd.Render(events, window)
	}

	chunks := digest.Split(text, digest.MaxChunkLen)
	res.Chunks = len(chunks)

	// Enable state may have flipped while rendering; check immediately before
	// the delivery attempt.
	if scheduled && !s.Enabled() {
		log.Info("trigger disabled mid-flight; delivery aborted")
		res.Skipped = true
		s.setLast(res, started)
		return nil
	}

	if err := s.out.Deliver(ctx, chunks); err != nil {
		log.Error("digest delivery failed", logx.Err(err),
			logx.Int("events", res.Events), logx.Int("chunks", res.Chunks))
		res.Error = err.Error()
		s.setLast(res, started)
		return err
	}

	log.Info("digest delivered",
		logx.Int("events", res.Events), logx.Int("chunks", res.Chunks))
	s.setLast(res, started)
	return nil
}

func (s *Service) setLast(res Result, started time.Time) {
	res.Duration = s.now().Sub(started)
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}
