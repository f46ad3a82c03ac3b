// Package status is the outward surface of the recorder: the derived
// status, storage usage and crash reports, pushed to subscribers and
// served over HTTP.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the derived recorder state, in precedence order.
type Status int

const (
	WaitingForWoW Status = iota
	ReadyToRecord
	Recording
	Overrunning
	InvalidConfig
	Fatal
)

func (s Status) String() string {
	switch s {
	case WaitingForWoW:
		return "waiting-for-wow"
	case ReadyToRecord:
		return "ready-to-record"
	case Recording:
		return "recording"
	case Overrunning:
		return "overrunning"
	case InvalidConfig:
		return "invalid-config"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UsageKind names a storage whose usage is reported.
type UsageKind string

const (
	DiskUsage  UsageKind = "disk"
	CloudUsage UsageKind = "cloud"
)

// Usage is bytes used against a limit; a zero Max means unlimited.
type Usage struct {
	Used int64 `json:"used"`
	Max  int64 `json:"max"`
}

// Crash is one recovered engine crash.
type Crash struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Diagnostic string    `json:"diagnostic"`
}

// Publisher receives everything the core reports outward.
type Publisher interface {
	PushStatus(s Status, message string)
	PushUsage(kind UsageKind, used, max int64)
	// RefreshState asks consumers to list videos again.
	RefreshState()
	PushCrash(diagnostic string)
}

// Snapshot is the latest state held by a Hub.
type Snapshot struct {
	Status   Status              `json:"status"`
	Message  string              `json:"message,omitempty"`
	Usage    map[UsageKind]Usage `json:"usage"`
	Crashes  []Crash             `json:"crashes,omitempty"`
	Revision uint64              `json:"revision"`
}

// UpdateKind says what changed in an Update.
type UpdateKind string

const (
	UpdateStatus  UpdateKind = "status"
	UpdateUsage   UpdateKind = "usage"
	UpdateRefresh UpdateKind = "refresh"
	UpdateCrash   UpdateKind = "crash"
)

// Update is delivered to subscribers after every push.
type Update struct {
	Kind     UpdateKind `json:"kind"`
	Snapshot Snapshot   `json:"snapshot"`
}

const maxCrashes = 20

// Hub is a Publisher that keeps the latest snapshot and fans updates out
// to subscribers. Slow subscribers miss updates rather than block pushes.
type Hub struct {
	mu        sync.Mutex
	snap      Snapshot
	subs      map[int]chan Update
	nextSubID int
	now       func() time.Time
}

// NewHub returns a Hub in the WaitingForWoW state.
func NewHub() *Hub {
	return &Hub{
		snap: Snapshot{Usage: make(map[UsageKind]Usage)},
		subs: make(map[int]chan Update),
		now:  time.Now,
	}
}

func (h *Hub) PushStatus(s Status, message string) {
	h.push(UpdateStatus, func(snap *Snapshot) bool {
		if snap.Status == s && snap.Message == message {
			return false
		}
		snap.Status, snap.Message = s, message
		return true
	})
}

func (h *Hub) PushUsage(kind UsageKind, used, max int64) {
	h.push(UpdateUsage, func(snap *Snapshot) bool {
		snap.Usage[kind] = Usage{Used: used, Max: max}
		return true
	})
}

func (h *Hub) RefreshState() {
	h.push(UpdateRefresh, func(*Snapshot) bool { return true })
}

func (h *Hub) PushCrash(diagnostic string) {
	h.push(UpdateCrash, func(snap *Snapshot) bool {
		snap.Crashes = append(snap.Crashes, Crash{ID: uuid.NewString(), At: h.now(), Diagnostic: diagnostic})
		if len(snap.Crashes) > maxCrashes {
			snap.Crashes = snap.Crashes[len(snap.Crashes)-maxCrashes:]
		}
		return true
	})
}

// Snapshot returns a copy of the latest state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copyLocked()
}

// Subscribe returns a channel of updates and a func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) push(kind UpdateKind, mutate func(*Snapshot) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !mutate(&h.snap) {
		return
	}
	h.snap.Revision++
	u := Update{Kind: kind, Snapshot: h.copyLocked()}
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (h *Hub) copyLocked() Snapshot {
	out := h.snap
	out.Usage = make(map[UsageKind]Usage, len(h.snap.Usage))
	for k, v := range h.snap.Usage {
		out.Usage[k] = v
	}
	out.Crashes = append([]Crash(nil), h.snap.Crashes...)
	return out
}
