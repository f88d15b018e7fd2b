// Package clock converts wall-clock time to the slot/phase time model the
// consensus-ledger pipeline runs on (spec.md §2, §5).
//
// Adapted from the teacher's clock/clock.go: the same injectable timeFunc
// and GenesisTime-relative arithmetic, but driven by a configurable
// slot_duration_ms (spec.md §6) instead of the teacher's fixed 4-second
// SecondsPerSlot, and phase-aware (Propose/Prevote/Precommit/Commit, spec.md
// §4.6.2) instead of the teacher's 4-interval LMD-GHOST schedule.
package clock

import (
	"time"

	"github.com/leancorelabs/chain/types"
)

// Phase is one step of the per-slot Propose→Prevote→Precommit→Commit cycle
// (spec.md §4.6.2).
type Phase int

const (
	Propose Phase = iota
	Prevote
	Precommit
	Commit
)

func (p Phase) String() string {
	switch p {
	case Propose:
		return "propose"
	case Prevote:
		return "prevote"
	case Precommit:
		return "precommit"
	case Commit:
		return "commit"
	default:
		return "unknown"
	}
}

// Next returns the phase that follows p, wrapping Commit back to Propose.
func (p Phase) Next() Phase {
	if p == Commit {
		return Propose
	}
	return p + 1
}

// phaseCount is the number of phases a slot is divided into for the purpose
// of computing a per-phase timeout.
const phaseCount = 4

// SlotClock converts wall-clock time to slot numbers and phase timeouts
// given a genesis time and a slot duration (spec.md §6's slot_duration_ms).
type SlotClock struct {
	genesisTime  time.Time
	slotDuration time.Duration
	phaseTimeout time.Duration
	timeFunc     func() time.Time
}

// New creates a SlotClock with the given genesis time (Unix millis) and slot
// duration in milliseconds.
func New(genesisTimeMs, slotDurationMs uint64) *SlotClock {
	return NewWithTimeFunc(genesisTimeMs, slotDurationMs, time.Now)
}

// NewWithTimeFunc creates a SlotClock with an injectable time source, for
// deterministic testing.
func NewWithTimeFunc(genesisTimeMs, slotDurationMs uint64, timeFunc func() time.Time) *SlotClock {
	slotDuration := time.Duration(slotDurationMs) * time.Millisecond
	return &SlotClock{
		genesisTime:  time.UnixMilli(int64(genesisTimeMs)),
		slotDuration: slotDuration,
		phaseTimeout: slotDuration / phaseCount,
		timeFunc:     timeFunc,
	}
}

// elapsed returns time elapsed since genesis, or 0 if called before genesis.
func (c *SlotClock) elapsed() time.Duration {
	d := c.timeFunc().Sub(c.genesisTime)
	if d < 0 {
		return 0
	}
	return d
}

// CurrentSlot returns the slot number containing the current wall-clock
// time (0 before genesis).
func (c *SlotClock) CurrentSlot() types.Slot {
	if c.slotDuration <= 0 {
		return 0
	}
	return types.Slot(c.elapsed() / c.slotDuration)
}

// SlotStartTime returns the wall-clock instant at which slot begins.
func (c *SlotClock) SlotStartTime(slot types.Slot) time.Time {
	return c.genesisTime.Add(time.Duration(uint64(slot)) * c.slotDuration)
}

// TimeIntoSlot returns how far the current wall-clock time is into the
// current slot.
func (c *SlotClock) TimeIntoSlot() time.Duration {
	if c.slotDuration <= 0 {
		return 0
	}
	return c.elapsed() % c.slotDuration
}

// CurrentPhase returns the phase the current wall-clock time falls into,
// dividing the slot into phaseCount equal phase windows.
func (c *SlotClock) CurrentPhase() Phase {
	if c.phaseTimeout <= 0 {
		return Propose
	}
	idx := int(c.TimeIntoSlot() / c.phaseTimeout)
	if idx >= phaseCount {
		idx = phaseCount - 1
	}
	return Phase(idx)
}

// PhaseDeadline returns the wall-clock instant by which phase must reach
// quorum before the slot clock times it out (spec.md §5's phase timeout,
// after which the node advances to the next slot without resetting its
// locked block).
func (c *SlotClock) PhaseDeadline(slot types.Slot, phase Phase) time.Time {
	return c.SlotStartTime(slot).Add(time.Duration(int(phase)+1) * c.phaseTimeout)
}

// IsBeforeGenesis reports whether the current wall-clock time precedes
// genesis.
func (c *SlotClock) IsBeforeGenesis() bool {
	return c.timeFunc().Before(c.genesisTime)
}

// SlotDuration returns the configured slot duration.
func (c *SlotClock) SlotDuration() time.Duration { return c.slotDuration }

// PhaseTimeout returns the configured per-phase timeout.
func (c *SlotClock) PhaseTimeout() time.Duration { return c.phaseTimeout }
