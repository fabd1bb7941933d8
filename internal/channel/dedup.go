package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDedupTTL bounds how long a delivered message key is remembered.
const DefaultDedupTTL = 5 * time.Minute

// SeenSet remembers recently delivered keys so gateway redeliveries are dropped.
type SeenSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewSeenSet creates a SeenSet with the given TTL.
func NewSeenSet(ttl time.Duration) *SeenSet {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &SeenSet{ttl: ttl, seen: map[string]time.Time{}, now: time.Now}
}

// Has reports whether key was marked and has not expired.
func (s *SeenSet) Has(key string) bool {
	if key == "" {
		return false
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[key]
	return ok && now.Sub(at) < s.ttl
}

// Mark records key as delivered.
func (s *SeenSet) Mark(key string) {
	if key == "" {
		return
	}
	now := s.now()
	s.mu.Lock()
	s.seen[key] = now
	s.mu.Unlock()
}

// Prune drops expired keys and returns how many were removed.
func (s *SeenSet) Prune() int {
	expireBefore := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, at := range s.seen {
		if at.Before(expireBefore) {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered keys.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// DedupMiddleware drops messages whose DedupKey was delivered within the TTL. A key is
// marked only after next succeeds, so a failed event is handled again when redelivered.
// Inbound events of one channel are handled serially, which keeps the check and the mark
// from racing.
func DedupMiddleware(log *slog.Logger, seen *SeenSet) Middleware {
	return func(next InboundHandler) InboundHandler {
		return func(ctx context.Context, msg InboundMessage) error {
			key := msg.DedupKey()
			if seen.Has(key) {
				log.Debug("duplicate inbound dropped",
					slog.String("channel", msg.Channel.String()),
					slog.String("message_id", msg.MessageID))
				return nil
			}
			if err := next(ctx, msg); err != nil {
				return err
			}
			seen.Mark(key)
			return nil
		}
	}
}
