package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseRequestingMedia    Phase = "requesting_media"
	PhaseAwaitingStream     Phase = "awaiting_stream"
	PhaseConnectingAnalysis Phase = "connecting_analysis"
	PhaseAnalyzing          Phase = "analyzing"
	PhaseFailed             Phase = "failed"
	PhaseDegraded           Phase = "degraded"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:               {PhaseRequestingMedia},
	PhaseRequestingMedia:    {PhaseAwaitingStream, PhaseFailed},
	PhaseAwaitingStream:     {PhaseConnectingAnalysis, PhaseFailed},
	PhaseConnectingAnalysis: {PhaseAnalyzing, PhaseDegraded},
	PhaseAnalyzing:          {PhaseIdle},
	PhaseFailed:             {PhaseIdle},
	PhaseDegraded:           {PhaseIdle},
}

func canMove(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Steps are the local capture and analysis collaborators a session needs
// before focus scores can flow. Each call should return once its resource
// is ready or ctx ends.
type Steps interface {
	RequestMedia(ctx context.Context) error
	AwaitStream(ctx context.Context) error
	ConnectAnalysis(ctx context.Context) error
}

type Timeouts struct {
	Media    time.Duration
	Stream   time.Duration
	Analysis time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Media: 30 * time.Second, Stream: 10 * time.Second, Analysis: 15 * time.Second}
}

// Startup drives one participant's session startup. Losing media is fatal;
// losing the analysis channel leaves the session running without scores.
type Startup struct {
	steps    Steps
	timeouts Timeouts
	clock    clockwork.Clock
	log      *zap.Logger
	onChange func(Phase)

	mu    sync.Mutex
	phase Phase
	err   error
}

func NewStartup(steps Steps, timeouts Timeouts, clock clockwork.Clock, log *zap.Logger) *Startup {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Startup{steps: steps, timeouts: timeouts, clock: clock, log: log, phase: PhaseIdle}
}

// OnChange registers a callback invoked after every phase change.
func (s *Startup) OnChange(fn func(Phase)) { s.onChange = fn }

func (s *Startup) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err is the error that moved the machine to failed or degraded.
func (s *Startup) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Startup) move(to Phase, err error) error {
	s.mu.Lock()
	from := s.phase
	if !canMove(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("startup: cannot move from %s to %s", from, to)
	}
	s.phase = to
	if err != nil {
		s.err = err
	}
	s.mu.Unlock()

	s.log.Debug("startup phase", zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
	if s.onChange != nil {
		s.onChange(to)
	}
	return nil
}

func (s *Startup) step(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	sctx, cancel := clockwork.WithTimeout(ctx, s.clock, timeout)
	defer cancel()
	return fn(sctx)
}

// Run walks the machine from idle to analyzing, failed or degraded and
// returns the phase it stopped in.
func (s *Startup) Run(ctx context.Context) (Phase, error) {
	if err := s.move(PhaseRequestingMedia, nil); err != nil {
		return s.Phase(), err
	}
	if err := s.step(ctx, s.timeouts.Media, s.steps.RequestMedia); err != nil {
		_ = s.move(PhaseFailed, fmt.Errorf("request media: %w", err))
		return PhaseFailed, s.Err()
	}

	_ = s.move(PhaseAwaitingStream, nil)
	if err := s.step(ctx, s.timeouts.Stream, s.steps.AwaitStream); err != nil {
		_ = s.move(PhaseFailed, fmt.Errorf("await stream: %w", err))
		return PhaseFailed, s.Err()
	}

	_ = s.move(PhaseConnectingAnalysis, nil)
	if err := s.step(ctx, s.timeouts.Analysis, s.steps.ConnectAnalysis); err != nil {
		_ = s.move(PhaseDegraded, fmt.Errorf("connect analysis: %w", err))
		return PhaseDegraded, s.Err()
	}

	_ = s.move(PhaseAnalyzing, nil)
	return PhaseAnalyzing, nil
}

// Reset returns a finished machine to idle so the next session can start.
func (s *Startup) Reset() error {
	if err := s.move(PhaseIdle, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	return nil
}
