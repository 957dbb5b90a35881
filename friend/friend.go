package friend

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/store"
)

// Status is a presence code published through the directory server.
type Status uint32

const (
	StatusOnline    Status = 7071170
	StatusOffline   Status = 5656232
	StatusAway      Status = 8909812
	StatusInvisible Status = 3201208
	StatusBusy      Status = 1248121
)

var statusNames = map[Status]string{
	StatusOnline:    "online",
	StatusOffline:   "offline",
	StatusAway:      "away",
	StatusInvisible: "invisible",
	StatusBusy:      "busy",
}

// ErrUnknownStatus indicates a presence value outside the known codes
var ErrUnknownStatus = errors.New("unknown status")

// String returns the lower-case status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// Code returns the decimal wire form.
func (s Status) Code() string {
	return strconv.FormatUint(uint64(s), 10)
}

// Reachable reports whether a friend with this status accepts connections.
func (s Status) Reachable() bool {
	return s == StatusOnline || s == StatusAway || s == StatusBusy
}

// ParseStatus accepts either a status name or its decimal code.
func ParseStatus(v string) (Status, error) {
	v = strings.TrimSpace(v)
	for s, name := range statusNames {
		if strings.EqualFold(v, name) {
			return s, nil
		}
	}
	code, err := strconv.ParseUint(v, 10, 32)
	if err == nil {
		if _, ok := statusNames[Status(code)]; ok {
			return Status(code), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, v)
}

// Peer is the cached view of one friend.
type Peer struct {
	UID      string
	Mask     string
	Address  string
	Status   Status
	LastSeen time.Time
}

// IsOnline reports whether the peer has an address and a reachable status.
func (p Peer) IsOnline() bool {
	return p.Address != "" && p.Status.Reachable()
}

// Roster caches friends by user id and mask on top of a store.
type Roster struct {
	mu           sync.RWMutex
	store        store.Store
	byUID        map[string]*Peer
	byMask       map[string]*Peer
	timeProvider crypto.TimeProvider
}

// NewRoster creates a Roster backed by s.
func NewRoster(s store.Store) *Roster {
	return NewRosterWithTimeProvider(s, nil)
}

// NewRosterWithTimeProvider creates a Roster with a custom time provider.
func NewRosterWithTimeProvider(s store.Store, tp crypto.TimeProvider) *Roster {
	if tp == nil {
		tp = crypto.DefaultTimeProvider{}
	}
	return &Roster{
		store:        s,
		byUID:        make(map[string]*Peer),
		byMask:       make(map[string]*Peer),
		timeProvider: tp,
	}
}

// Load replaces the cache with the friends currently in the store.
func (r *Roster) Load() error {
	friends, err := r.store.Friends()
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUID = make(map[string]*Peer, len(friends))
	r.byMask = make(map[string]*Peer, len(friends))
	for _, f := range friends {
		r.put(f)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"friends":  len(friends),
	}).Debug("Roster loaded")
	return nil
}

func (r *Roster) put(f store.Friend) *Peer {
	p, ok := r.byMask[f.Mask]
	if !ok {
		p = &Peer{Mask: f.Mask, Status: StatusOffline}
		r.byMask[f.Mask] = p
	}
	p.UID = f.UID
	p.Address = f.Address
	r.byUID[f.UID] = p
	return p
}

// Add caches a friend record.
func (r *Roster) Add(f store.Friend) {
	r.mu.Lock()
	r.put(f)
	r.mu.Unlock()
}

// Lookup resolves uid to a peer with a known address. A peer that is known
// but has no address is returned together with qerr.ErrMissingFriendAddress.
func (r *Roster) Lookup(uid string) (Peer, error) {
	r.mu.RLock()
	p, ok := r.byUID[uid]
	var peer Peer
	if ok {
		peer = *p
	}
	r.mu.RUnlock()

	if !ok {
		f, found, err := r.store.FriendByUID(uid)
		if err != nil {
			return Peer{}, err
		}
		if !found {
			return Peer{}, qerr.New("lookup", uid, qerr.ErrMissingFriend)
		}
		r.mu.Lock()
		peer = *r.put(f)
		r.mu.Unlock()
	}
	if peer.Address == "" {
		return peer, qerr.New("lookup", uid, qerr.ErrMissingFriendAddress)
	}
	return peer, nil
}

// ByMask returns the cached peer for mask.
func (r *Roster) ByMask(mask string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byMask[mask]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Peers returns every cached peer ordered by user id.
func (r *Roster) Peers() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.byMask))
	for _, p := range r.byMask {
		out = append(out, *p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// SetAddress stores a new address for mask.
func (r *Roster) SetAddress(mask, address string) error {
	if err := r.store.SetAddress(mask, address); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byMask[mask]; ok {
		p.Address = address
	}
	return nil
}

// SetStatus records a presence update for mask.
func (r *Roster) SetStatus(mask string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byMask[mask]
	if !ok {
		return
	}
	p.Status = status
	p.LastSeen = r.timeProvider.Now()

	logrus.WithFields(logrus.Fields{
		"function": "SetStatus",
		"mask":     mask,
		"status":   status.String(),
	}).Debug("Friend status updated")
}

// Remove deletes the friend and everything stored for it.
func (r *Roster) Remove(mask string) error {
	if err := r.store.DeleteFriend(mask); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byMask[mask]; ok {
		delete(r.byUID, p.UID)
		delete(r.byMask, mask)
	}
	return nil
}
