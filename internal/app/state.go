package app

import (
	"sync"
	"time"

	"github.com/emmett/voxcmd/internal/audio"
)

// ListenState is the background listening state
type ListenState int

const (
	ListenIdle ListenState = iota
	ListenListening
	ListenRecording
	ListenProcessing
)

func (s ListenState) String() string {
	switch s {
	case ListenListening:
		return "listening"
	case ListenRecording:
		return "recording"
	case ListenProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// SessionState is the recording session state
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRecording
	SessionProcessing
)

func (s SessionState) String() string {
	switch s {
	case SessionRecording:
		return "recording"
	case SessionProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Owner identifies who started the active recording
type Owner int

const (
	// OwnerManual is a push-to-talk recording ended by StopRecording.
	OwnerManual Owner = iota
	// OwnerOneShot is a single VAD-terminated recording.
	OwnerOneShot
	// OwnerBackground is a recording made by the background listening loop.
	OwnerBackground
)

func (o Owner) String() string {
	switch o {
	case OwnerOneShot:
		return "oneshot"
	case OwnerBackground:
		return "background"
	default:
		return "manual"
	}
}

// recording is the single active recording. Its fields are written before
// it is marked ready and read only after a state transition, both under
// StateHolder.mu.
type recording struct {
	id       string
	owner    Owner
	started  time.Time
	capturer audio.Capturer
	buffer   *RecordingBuffer
	ready    bool

	// manual recordings only
	collected  chan struct{}
	collectErr error
}

// StateHolder is the one synchronization point for recording and listening
// state. Every component that transitions state shares the same holder.
type StateHolder struct {
	mu      sync.Mutex
	session SessionState
	listen  ListenState
	active  *recording

	// released is closed when active ends
	released chan struct{}
}

// NewStateHolder returns a holder with everything idle
func NewStateHolder() *StateHolder {
	return &StateHolder{}
}

// Snapshot is a consistent copy of the state
type Snapshot struct {
	Session       SessionState
	Owner         Owner
	Listen        ListenState
	RecordingFor  time.Duration
	DroppedFrames uint64
}

// Snapshot returns the current state
func (h *StateHolder) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{Session: h.session, Listen: h.listen}
	if h.active != nil {
		snap.Owner = h.active.owner
		if h.session == SessionRecording {
			snap.RecordingFor = time.Since(h.active.started)
		}
		if h.active.ready && h.active.capturer != nil {
			snap.DroppedFrames = h.active.capturer.Frames().Dropped()
		}
	}
	return snap
}

// IsRecording reports whether a recording is capturing audio
func (h *StateHolder) IsRecording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session == SessionRecording
}

// IsListening reports whether background listening is active
func (h *StateHolder) IsListening() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listen != ListenIdle
}

// beginRecording reserves the session for rec: Idle → Recording.
func (h *StateHolder) beginRecording(rec *recording) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session != SessionIdle {
		return ErrAlreadyRecording
	}
	h.session = SessionRecording
	h.active = rec
	h.released = make(chan struct{})
	return nil
}

// markReady publishes rec's capturer and buffer to StopRecording and Snapshot.
func (h *StateHolder) markReady(rec *recording) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == rec {
		rec.ready = true
	}
}

// beginProcessing moves the ready recording owned by owner to Processing and
// returns it: Recording → Processing.
func (h *StateHolder) beginProcessing(owner Owner) (*recording, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session != SessionRecording || h.active == nil || h.active.owner != owner || !h.active.ready {
		return nil, ErrNotRecording
	}
	h.session = SessionProcessing
	return h.active, nil
}

// endRecording releases the session held by rec: → Idle.
func (h *StateHolder) endRecording(rec *recording) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active != rec {
		return
	}
	h.session = SessionIdle
	h.active = nil
	close(h.released)
	h.released = nil
}

// whenReleased returns a channel that is closed once the active recording
// ends. With no active recording it is already closed.
func (h *StateHolder) whenReleased() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.released
}

// beginListening moves background listening Idle → Listening.
func (h *StateHolder) beginListening() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listen != ListenIdle {
		return ErrAlreadyListening
	}
	h.listen = ListenListening
	return nil
}

// setListen updates the loop's phase. It never revives a stopped loop.
func (h *StateHolder) setListen(s ListenState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listen == ListenIdle || s == ListenIdle {
		return
	}
	h.listen = s
}

// endListening moves background listening to Idle.
func (h *StateHolder) endListening() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listen = ListenIdle
}
