package competition

import (
	"time"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

type Mode string

const (
	ModePomodoro Mode = "pomodoro"
	ModeCustom   Mode = "custom"
)

type State string

const (
	StateIdle        State = "idle"
	StateActiveWork  State = "active_work"
	StateActiveBreak State = "active_break"
	StateEnded       State = "ended"
)

const (
	EndReasonManual     = "manual"
	EndReasonExpired    = "expired"
	EndReasonRoomClosed = "room_closed"
)

// maxPhaseMinutes caps a single phase at one day.
const maxPhaseMinutes = 24 * 60

type Config struct {
	Mode            Mode
	WorkMinutes     int
	BreakMinutes    int
	DurationMinutes int
}

func (c Config) Validate() error {
	inRange := func(m int) bool { return m > 0 && m <= maxPhaseMinutes }
	switch c.Mode {
	case ModePomodoro:
		if !inRange(c.WorkMinutes) {
			return apperrors.Validationf("work_minutes", "must be within 1..%d", maxPhaseMinutes)
		}
		if !inRange(c.BreakMinutes) {
			return apperrors.Validationf("break_minutes", "must be within 1..%d", maxPhaseMinutes)
		}
	case ModeCustom:
		if !inRange(c.DurationMinutes) {
			return apperrors.Validationf("duration_minutes", "must be within 1..%d", maxPhaseMinutes)
		}
	default:
		return apperrors.Validationf("mode", "unknown mode %q", c.Mode)
	}
	return nil
}

func (c Config) work() time.Duration {
	if c.Mode == ModeCustom {
		return time.Duration(c.DurationMinutes) * time.Minute
	}
	return time.Duration(c.WorkMinutes) * time.Minute
}

func (c Config) rest() time.Duration {
	return time.Duration(c.BreakMinutes) * time.Minute
}

// Competition is one focus duel. Deadlines are absolute wall-clock times;
// remaining time is always derived by subtraction.
type Competition struct {
	ID             string
	RoomID         string
	Config         Config
	State          State
	StartedAt      time.Time
	PhaseStartedAt time.Time
	PhaseDeadline  time.Time
	Cycle          int
	EndedAt        time.Time
	EndReason      string
}

func (c *Competition) Live() bool {
	return c.State == StateActiveWork || c.State == StateActiveBreak
}

// Scoring reports whether score increments may be applied.
func (c *Competition) Scoring() bool { return c.State == StateActiveWork }

func (c *Competition) Remaining(now time.Time) time.Duration {
	if !c.Live() {
		return 0
	}
	if d := c.PhaseDeadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// advance moves through every phase whose deadline has passed. Each next
// deadline is derived from the previous one, so late wake-ups and restarts
// land on the same schedule instead of drifting.
func (c *Competition) advance(now time.Time) bool {
	changed := false
	for c.Live() && !now.Before(c.PhaseDeadline) {
		boundary := c.PhaseDeadline
		changed = true
		switch {
		case c.Config.Mode == ModeCustom:
			c.State = StateEnded
			c.EndedAt = boundary
			c.EndReason = EndReasonExpired
		case c.State == StateActiveWork:
			c.State = StateActiveBreak
			c.PhaseStartedAt = boundary
			c.PhaseDeadline = boundary.Add(c.Config.rest())
		default:
			c.State = StateActiveWork
			c.Cycle++
			c.PhaseStartedAt = boundary
			c.PhaseDeadline = boundary.Add(c.Config.work())
		}
	}
	return changed
}

// View converts to the wire type. Results are attached by the caller.
func (c *Competition) View() types.Competition {
	return types.Competition{
		ID:     c.ID,
		RoomID: c.RoomID,
		Config: types.CompetitionConfig{
			Mode:            string(c.Config.Mode),
			WorkMinutes:     c.Config.WorkMinutes,
			BreakMinutes:    c.Config.BreakMinutes,
			DurationMinutes: c.Config.DurationMinutes,
		},
		State:         string(c.State),
		StartedAt:     c.StartedAt,
		PhaseDeadline: c.PhaseDeadline,
		Cycle:         c.Cycle,
		EndReason:     c.EndReason,
	}
}

// ConfigFromWire validates and converts a request config.
func ConfigFromWire(mode string, cfg types.CompetitionConfig) (Config, error) {
	if mode == "" {
		mode = cfg.Mode
	}
	c := Config{
		Mode:            Mode(mode),
		WorkMinutes:     cfg.WorkMinutes,
		BreakMinutes:    cfg.BreakMinutes,
		DurationMinutes: cfg.DurationMinutes,
	}
	return c, c.Validate()
}

// FromView rebuilds a competition from its wire form, as persisted by the
// event store. The phase start is derived from the deadline.
func FromView(v types.Competition) (*Competition, error) {
	cfg, err := ConfigFromWire(v.Config.Mode, v.Config)
	if err != nil {
		return nil, err
	}
	c := &Competition{
		ID:            v.ID,
		RoomID:        v.RoomID,
		Config:        cfg,
		State:         State(v.State),
		StartedAt:     v.StartedAt,
		PhaseDeadline: v.PhaseDeadline,
		Cycle:         v.Cycle,
		EndReason:     v.EndReason,
	}
	switch c.State {
	case StateActiveWork:
		c.PhaseStartedAt = v.PhaseDeadline.Add(-cfg.work())
	case StateActiveBreak:
		c.PhaseStartedAt = v.PhaseDeadline.Add(-cfg.rest())
	case StateEnded:
	default:
		return nil, apperrors.Validationf("state", "unknown competition state %q", v.State)
	}
	return c, nil
}
