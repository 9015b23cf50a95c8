package groups

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Policy adjusts a group's desired capacity. Exactly one of Change,
// ChangePercent, or DesiredCapacity must be set. A policy with a Schedule
// fires on its own; others fire when executed through the API.
type Policy struct {
	ID       string    `json:"id"`
	Name     string    `json:"name" validate:"required,max=256"`
	Cooldown int       `json:"cooldown" validate:"min=0"`
	Change   *int      `json:"change,omitempty"`
	ChangePercent   *float64  `json:"changePercent,omitempty"`
	DesiredCapacity *int      `json:"desiredCapacity,omitempty"`
	Schedule        *Schedule `json:"schedule,omitempty"`

	// bumped on every update; scheduled events created against an older
	// version are dropped instead of fired
	Version int64 `json:"version,omitempty"`

	// minted at creation and stable across updates; anyone holding the
	// hash can fire the policy anonymously through the execute route
	Capability *Capability `json:"capability,omitempty"`
}

// Capability is an unguessable token granting anonymous execution of one
// policy.
type Capability struct {
	Version string `json:"version"`
	Hash    string `json:"hash"`
}

// GenerateCapability mints a version-1 capability from 32 random bytes.
func GenerateCapability() (Capability, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Capability{}, fmt.Errorf("generate capability: %w", err)
	}
	return Capability{Version: "1", Hash: hex.EncodeToString(buf)}, nil
}

// Schedule fires a policy either once at a fixed time or repeatedly on a
// cron expression.
type Schedule struct {
	At   *time.Time `json:"at,omitempty"`
	Cron string     `json:"cron,omitempty"`
}

func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	set := 0
	if p.Change != nil {
		set++
	}
	if p.ChangePercent != nil {
		set++
	}
	if p.DesiredCapacity != nil {
		set++
		if *p.DesiredCapacity < 0 {
			return fmt.Errorf("%w: desiredCapacity must not be negative", ErrInvalidConfig)
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of change, changePercent, desiredCapacity must be set", ErrInvalidConfig)
	}

	if p.Schedule != nil {
		if (p.Schedule.At == nil) == (p.Schedule.Cron == "") {
			return fmt.Errorf("%w: schedule needs exactly one of at, cron", ErrInvalidConfig)
		}
		if p.Schedule.Cron != "" {
			if _, err := cron.ParseStandard(p.Schedule.Cron); err != nil {
				return fmt.Errorf("%w: bad cron expression: %s", ErrInvalidConfig, err)
			}
		}
	}

	return nil
}

// NextTrigger returns the first firing time at or after now, or false for
// unscheduled policies and one-shot schedules already in the past.
func (p *Policy) NextTrigger(now time.Time) (time.Time, bool) {
	if p.Schedule == nil {
		return time.Time{}, false
	}
	if p.Schedule.At != nil {
		if p.Schedule.At.Before(now) {
			return time.Time{}, false
		}
		return *p.Schedule.At, true
	}
	sched, err := cron.ParseStandard(p.Schedule.Cron)
	if err != nil {
		return time.Time{}, false
	}
	return sched.Next(now), true
}
