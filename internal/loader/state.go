package loader

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotInitialized     = errors.New("loader: state not initialized")
	ErrAlreadyInitialized = errors.New("loader: state already initialized")
	ErrBusy               = errors.New("loader: a request is already in flight")
)

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Notification is the single transient message currently on display.
type Notification struct {
	Seq     uint64
	Level   Level
	Message string
	At      time.Time
}

type Snapshot struct {
	Busy         bool
	Notification *Notification
}

// State is the UI-wide busy flag and notification slot. The zero value is
// not usable until Init; mutations issued before Init are dropped.
type State struct {
	// pub orders publications: a snapshot reaches subscribers before any
	// later transition is taken.
	pub sync.Mutex

	mu          sync.Mutex
	ready       bool
	busy        bool
	current     *Notification
	seq         uint64
	subscribers []func(Snapshot)
	now         func() time.Time
}

func New() *State {
	return &State{now: time.Now}
}

func (s *State) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return ErrAlreadyInitialized
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.ready = true
	return nil
}

func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Acquire flips busy from false to true. It is the only admission gate for
// outbound requests.
func (s *State) Acquire() error {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	publish(subs, snap)
	return nil
}

// Show is Acquire under the name the UI uses; there is no way to set busy
// without passing the admission check.
func (s *State) Show() error {
	return s.Acquire()
}

func (s *State) Hide() {
	s.setBusy(false)
}

func (s *State) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *State) Info(msg string) {
	s.notify(LevelInfo, msg)
}

func (s *State) Error(msg string) {
	s.notify(LevelError, msg)
}

// Notification returns the notification currently on display.
func (s *State) Notification() (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Notification{}, false
	}
	return *s.current, true
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.snapshotLocked()
	return snap
}

// Subscribe registers fn to be called after every transition, in transition
// order. fn runs on the goroutine that caused the transition and must not
// mutate s; a slow fn delays the next transition.
func (s *State) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

func (s *State) setBusy(v bool) {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.mu.Lock()
	if !s.ready || s.busy == v {
		s.mu.Unlock()
		return
	}
	s.busy = v
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	publish(subs, snap)
}

func (s *State) notify(level Level, msg string) {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.current = &Notification{Seq: s.seq, Level: level, Message: msg, At: s.now()}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()
	publish(subs, snap)
}

func (s *State) snapshotLocked() (Snapshot, []func(Snapshot)) {
	snap := Snapshot{Busy: s.busy}
	if s.current != nil {
		n := *s.current
		snap.Notification = &n
	}
	subs := append([]func(Snapshot){}, s.subscribers...)
	return snap, subs
}

func publish(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
