package runtime

import (
	"chat-hub/contract"
	"sort"
	"sync"
	"time"
)

const (
	DefaultTypingTTL    = 5 * time.Second
	DefaultOnlineWindow = 60 * time.Second
)

type Clock func() time.Time

type typingKey struct {
	conversationID string
	userID         string
}

// Register holds ephemeral presence and typing state. Online status is derived
// from lastActiveAt and the window, never stored.
type Register struct {
	mu           sync.Mutex
	now          Clock
	typingTTL    time.Duration
	onlineWindow time.Duration
	lastActive   map[string]time.Time
	typing       map[typingKey]time.Time
	lastSweep    time.Time
}

func NewRegister(typingTTL, onlineWindow time.Duration, now Clock) *Register {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	if onlineWindow <= 0 {
		onlineWindow = DefaultOnlineWindow
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Register{
		now:          now,
		typingTTL:    typingTTL,
		onlineWindow: onlineWindow,
		lastActive:   make(map[string]time.Time),
		typing:       make(map[typingKey]time.Time),
		lastSweep:    now(),
	}
}

// Touch records activity and reports whether the user was offline before it.
func (r *Register) Touch(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	previous, seen := r.lastActive[userID]
	r.lastActive[userID] = now
	return !seen || !r.onlineAt(previous, now)
}

func (r *Register) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastActive[userID]
	return ok && r.onlineAt(last, r.now())
}

func (r *Register) LastActive(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastActive[userID]
	return last, ok
}

// StartTyping opens or refreshes a typing session and reports whether it is new.
func (r *Register) StartTyping(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	key := typingKey{conversationID: conversationID, userID: userID}
	expiresAt, exists := r.typing[key]
	r.typing[key] = now.Add(r.typingTTL)
	return !exists || !now.Before(expiresAt)
}

// StopTyping closes a typing session and reports whether one was live.
func (r *Register) StopTyping(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := typingKey{conversationID: conversationID, userID: userID}
	expiresAt, exists := r.typing[key]
	delete(r.typing, key)
	return exists && r.now().Before(expiresAt)
}

// SweepExpired removes and returns sessions whose expiry is at or before now.
func (r *Register) SweepExpired(now time.Time) []contract.TypingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []contract.TypingEntry
	for key, expiresAt := range r.typing {
		if !now.Before(expiresAt) {
			expired = append(expired, contract.TypingEntry{
				ConversationID: key.conversationID,
				UserID:         key.userID,
				ExpiresAt:      expiresAt,
			})
			delete(r.typing, key)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	return expired
}

// SweepPresence returns users whose online window closed since the previous sweep.
func (r *Register) SweepPresence(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lapsed []string
	for userID, last := range r.lastActive {
		if r.onlineAt(last, r.lastSweep) && !r.onlineAt(last, now) {
			lapsed = append(lapsed, userID)
		}
	}
	r.lastSweep = now
	sort.Strings(lapsed)
	return lapsed
}

// Typing lists users typing in a conversation.
func (r *Register) Typing(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var users []string
	for key, expiresAt := range r.typing {
		if key.conversationID == conversationID && now.Before(expiresAt) {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users
}

// Counts returns the online users and live typing sessions.
func (r *Register) Counts() (online, typing int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, last := range r.lastActive {
		if r.onlineAt(last, now) {
			online++
		}
	}
	return online, len(r.typing)
}

func (r *Register) onlineAt(lastActive, at time.Time) bool {
	return at.Sub(lastActive) < r.onlineWindow
}
