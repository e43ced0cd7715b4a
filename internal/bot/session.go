package bot

import (
	"context"
	"log"
	"sync"
	"time"
)

type sessionStep int

const (
	stepAwaitingScope sessionStep = iota
	stepAwaitingRange
)

// Session holds one chat's in-flight multi-step command. Sessions live
// only in memory; a restart loses them, which is acceptable.
type Session struct {
	Pending     Command
	Step        sessionStep
	LastTouched time.Time
}

// Sessions is the per-chat session table, swept periodically so idle
// sessions past the timeout are discarded rather than resumed.
type Sessions struct {
	mu      sync.Mutex
	byChat  map[int64]*Session
	timeout time.Duration
	now     func() time.Time
}

func NewSessions(timeout time.Duration) *Sessions {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Sessions{
		byChat:  make(map[int64]*Session),
		timeout: timeout,
		now:     time.Now,
	}
}

// Get returns the chat's live session, or nil. An expired session is
// deleted on access, so the next message starts fresh.
func (s *Sessions) Get(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byChat[chatID]
	if !ok {
		return nil
	}
	if s.now().Sub(sess.LastTouched) > s.timeout {
		delete(s.byChat, chatID)
		return nil
	}
	return sess
}

// Put stores the chat's session and stamps it as touched.
func (s *Sessions) Put(chatID int64, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.LastTouched = s.now()
	s.byChat[chatID] = sess
}

// Clear drops the chat's session, if any.
func (s *Sessions) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byChat, chatID)
}

// Sweep removes every expired session and returns how many it dropped.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for chatID, sess := range s.byChat {
		if now.Sub(sess.LastTouched) > s.timeout {
			delete(s.byChat, chatID)
			dropped++
		}
	}
	return dropped
}

// StartSweeper sweeps on the given interval until ctx is done.
func (s *Sessions) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Printf("sessions: swept %d expired session(s)", n)
				}
			}
		}
	}()
}
