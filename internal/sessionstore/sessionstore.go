// Package sessionstore issues and validates opaque reconnection tokens
// binding a stable player id to a room code, with a sliding expiry and a
// background reaper.
package sessionstore

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/metrics"
)

// expiry is the sliding inactivity window after which a session is no
// longer returned by Validate.
const expiry = 30 * time.Minute

// reapInterval is how often the background reaper drops expired sessions.
const reapInterval = 5 * time.Minute

// Session is a reconnection credential.
type Session struct {
	Token        string
	PlayerID     string
	RoomCode     string
	CreatedAt    time.Time
	LastActivity time.Time
}

func (s Session) expired(now time.Time) bool {
	return now.Sub(s.LastActivity) > expiry
}

// Store maps tokens to sessions and player ids to their single active
// token. All lookups are total: a miss or expiry returns a nil Session,
// never an error.
type Store struct {
	mu sync.Mutex

	byToken  map[string]*Session
	byPlayer map[string]string              // playerId -> token
	byRoom   map[string]map[string]struct{} // roomCode -> set of tokens

	stop chan struct{}
	done chan struct{}
}

// New constructs a Store and starts its reaper goroutine.
func New() *Store {
	s := &Store{
		byToken:  make(map[string]*Session),
		byPlayer: make(map[string]string),
		byRoom:   make(map[string]map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Stop terminates the reaper goroutine.
func (s *Store) Stop() {
	close(s.stop)
	<-s.done
}

// Create mints a session token for (playerID, roomCode). If an existing
// session already maps this exact pair, its token is reused and its
// activity refreshed (idempotent). Otherwise a new token is minted and any
// prior session for playerID is evicted, since only one token per player
// may be active at a time.
func (s *Store) Create(playerID, roomCode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if existingToken, ok := s.byPlayer[playerID]; ok {
		if sess, ok := s.byToken[existingToken]; ok && sess.RoomCode == roomCode {
			sess.LastActivity = now
			return sess.Token, nil
		}
		s.removeLocked(existingToken)
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	sess := &Session{
		Token:        token,
		PlayerID:     playerID,
		RoomCode:     roomCode,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.byToken[token] = sess
	s.byPlayer[playerID] = token
	if s.byRoom[roomCode] == nil {
		s.byRoom[roomCode] = make(map[string]struct{})
	}
	s.byRoom[roomCode][token] = struct{}{}

	metrics.SessionsActive.Set(float64(len(s.byToken)))

	return token, nil
}

// Validate returns the session for token, refreshing its LastActivity, or
// nil if the token is unknown or expired.
func (s *Store) Validate(token string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return nil
	}
	now := time.Now()
	if sess.expired(now) {
		s.removeLocked(token)
		metrics.SessionsActive.Set(float64(len(s.byToken)))
		return nil
	}
	sess.LastActivity = now

	out := *sess
	return &out
}

// DeleteByToken invalidates a single session.
func (s *Store) DeleteByToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(token)
	metrics.SessionsActive.Set(float64(len(s.byToken)))
}

// DeleteByPlayer invalidates the single active session for playerID, used
// when one player is permanently removed from a room that otherwise
// survives (grace expiry or explicit leave).
func (s *Store) DeleteByPlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.byPlayer[playerID]; ok {
		s.removeLocked(token)
		metrics.SessionsActive.Set(float64(len(s.byToken)))
	}
}

// DeleteByRoom invalidates every session bound to roomCode, used when a
// room is destroyed.
func (s *Store) DeleteByRoom(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token := range s.byRoom[roomCode] {
		s.removeLocked(token)
	}
	delete(s.byRoom, roomCode)

	metrics.SessionsActive.Set(float64(len(s.byToken)))
}

// removeLocked must be called with s.mu held.
func (s *Store) removeLocked(token string) {
	sess, ok := s.byToken[token]
	if !ok {
		return
	}
	delete(s.byToken, token)
	if s.byPlayer[sess.PlayerID] == token {
		delete(s.byPlayer, sess.PlayerID)
	}
	if room, ok := s.byRoom[sess.RoomCode]; ok {
		delete(room, token)
		if len(room) == 0 {
			delete(s.byRoom, sess.RoomCode)
		}
	}
}

func (s *Store) reapLoop() {
	defer close(s.done)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

func (s *Store) reapExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for token, sess := range s.byToken {
		if sess.expired(now) {
			s.removeLocked(token)
		}
	}
	metrics.SessionsActive.Set(float64(len(s.byToken)))
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
