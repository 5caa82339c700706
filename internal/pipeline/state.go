package pipeline

import (
	"time"

	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// DispatchState is the recognition state of one track.
type DispatchState int

const (
	NotRequested DispatchState = iota
	Requested
	Resolved
)

func (s DispatchState) String() string {
	switch s {
	case Requested:
		return "requested"
	case Resolved:
		return "resolved"
	default:
		return "not_requested"
	}
}

// trackInfo is what the coordinator remembers about a track after the
// tracker stops reporting it.
type trackInfo struct {
	id         int
	class      int
	lastBox    utils.Box
	firstFrame int
	lastFrame  int
	firstSeen  time.Time
	dispatch   DispatchState
}

// state is the coordinator's mutable run state. It is only touched from the
// frame loop.
type state struct {
	tracks  map[int]*trackInfo
	order   []int
	records map[int]*WagonRecord
	frames  int
	drops   int
	ignored int
}

func newState() *state {
	return &state{
		tracks:  make(map[int]*trackInfo),
		records: make(map[int]*WagonRecord),
	}
}

// observe registers or refreshes a track. It reports whether the id is new.
func (s *state) observe(id, class int, box utils.Box, frame int, now time.Time) bool {
	if t, ok := s.tracks[id]; ok {
		t.lastBox = box
		t.lastFrame = frame
		return false
	}
	s.tracks[id] = &trackInfo{
		id:         id,
		class:      class,
		lastBox:    box,
		firstFrame: frame,
		lastFrame:  frame,
		firstSeen:  now,
	}
	s.order = append(s.order, id)
	return true
}

func (s *state) dispatchState(id int) DispatchState {
	if t, ok := s.tracks[id]; ok {
		return t.dispatch
	}
	return NotRequested
}

// markRequested moves a track to Requested and opens its pending record.
func (s *state) markRequested(id int, rec *WagonRecord) {
	t := s.tracks[id]
	t.dispatch = Requested
	rec.FirstSeenAt = t.firstSeen
	rec.FirstFrame = t.firstFrame
	s.records[id] = rec
}

// resolve applies the first result for a requested track. Later results and
// results for unknown tracks are ignored and reported as false.
func (s *state) resolve(id int, apply func(*WagonRecord)) bool {
	t, ok := s.tracks[id]
	if !ok || t.dispatch != Requested {
		s.ignored++
		return false
	}
	t.dispatch = Resolved
	apply(s.records[id])
	return true
}
