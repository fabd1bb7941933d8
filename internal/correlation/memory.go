package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type messageKey struct {
	source    string
	direction Direction
	part      int
}

type targetKey struct {
	target    string
	direction Direction
}

// MemoryStore is a process-local Store. It satisfies the same uniqueness rules as the
// durable backends and is used for tests and single-run deployments (memory:// DSN).
type MemoryStore struct {
	mu            sync.RWMutex
	links         map[string]ConversationLink
	linksByThread map[string]string
	chans         map[string]ChannelLink
	chansByThread map[string]string
	messages      map[string]*MessageCorrelation
	bySource      map[messageKey]string
	byTarget      map[targetKey]string
	closed        bool
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:         map[string]ConversationLink{},
		linksByThread: map[string]string{},
		chans:         map[string]ChannelLink{},
		chansByThread: map[string]string{},
		messages:      map[string]*MessageCorrelation{},
		bySource:      map[messageKey]string{},
		byTarget:      map[targetKey]string{},
		now:           time.Now,
	}
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	if s.closed {
		return Unavailable(op, errStoreClosed)
	}
	return nil
}

func (s *MemoryStore) FindLink(ctx context.Context, identity string) (ConversationLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find link"); err != nil {
		return ConversationLink{}, err
	}
	link, ok := s.links[identity]
	if !ok {
		return ConversationLink{}, ErrNotFound
	}
	return link, nil
}

func (s *MemoryStore) FindLinkByThread(ctx context.Context, threadID string) (ConversationLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find link by thread"); err != nil {
		return ConversationLink{}, err
	}
	identity, ok := s.linksByThread[threadID]
	if !ok {
		return ConversationLink{}, ErrNotFound
	}
	return s.links[identity], nil
}

func (s *MemoryStore) InsertLinkIfAbsent(ctx context.Context, link ConversationLink) (ConversationLink, bool, error) {
	if err := link.Validate(); err != nil {
		return ConversationLink{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert link"); err != nil {
		return ConversationLink{}, false, err
	}
	if existing, ok := s.links[link.SourceIdentity]; ok {
		return existing, false, nil
	}
	if _, ok := s.linksByThread[link.ThreadID]; ok {
		return ConversationLink{}, false, ErrDuplicate
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now().UTC()
	}
	s.links[link.SourceIdentity] = link
	s.linksByThread[link.ThreadID] = link.SourceIdentity
	return link, true, nil
}

func (s *MemoryStore) FindChannelLink(ctx context.Context, channelID string) (ChannelLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find channel link"); err != nil {
		return ChannelLink{}, err
	}
	link, ok := s.chans[channelID]
	if !ok {
		return ChannelLink{}, ErrNotFound
	}
	return link, nil
}

func (s *MemoryStore) FindChannelLinkByThread(ctx context.Context, threadID string) (ChannelLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find channel link by thread"); err != nil {
		return ChannelLink{}, err
	}
	channelID, ok := s.chansByThread[threadID]
	if !ok {
		return ChannelLink{}, ErrNotFound
	}
	return s.chans[channelID], nil
}

func (s *MemoryStore) InsertChannelLinkIfAbsent(ctx context.Context, link ChannelLink) (ChannelLink, bool, error) {
	if err := link.Validate(); err != nil {
		return ChannelLink{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert channel link"); err != nil {
		return ChannelLink{}, false, err
	}
	if existing, ok := s.chans[link.SourceChannelID]; ok {
		return existing, false, nil
	}
	if _, ok := s.chansByThread[link.ThreadID]; ok {
		return ChannelLink{}, false, ErrDuplicate
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now().UTC()
	}
	s.chans[link.SourceChannelID] = link
	s.chansByThread[link.ThreadID] = link.SourceChannelID
	return link, true, nil
}

func (s *MemoryStore) DeleteChannelLink(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "delete channel link"); err != nil {
		return err
	}
	channelID, ok := s.chansByThread[threadID]
	if !ok {
		return ErrNotFound
	}
	delete(s.chansByThread, threadID)
	delete(s.chans, channelID)
	return nil
}

func (s *MemoryStore) FindMessage(ctx context.Context, sourceMessageID string, direction Direction) (MessageCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find message"); err != nil {
		return MessageCorrelation{}, err
	}
	id, ok := s.bySource[messageKey{source: sourceMessageID, direction: direction}]
	if !ok {
		return MessageCorrelation{}, ErrNotFound
	}
	return *s.messages[id], nil
}

func (s *MemoryStore) FindMessageByTarget(ctx context.Context, targetMessageID string, direction Direction) (MessageCorrelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find message by target"); err != nil {
		return MessageCorrelation{}, err
	}
	id, ok := s.byTarget[targetKey{target: targetMessageID, direction: direction}]
	if !ok {
		return MessageCorrelation{}, ErrNotFound
	}
	return *s.messages[id], nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, corr MessageCorrelation) (MessageCorrelation, error) {
	if err := corr.Validate(); err != nil {
		return MessageCorrelation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert message"); err != nil {
		return MessageCorrelation{}, err
	}
	key := messageKey{source: corr.SourceMessageID, direction: corr.Direction, part: corr.Part}
	if _, ok := s.bySource[key]; ok {
		return MessageCorrelation{}, ErrDuplicate
	}
	if corr.ID == "" {
		corr.ID = uuid.NewString()
	}
	if _, ok := s.messages[corr.ID]; ok {
		return MessageCorrelation{}, ErrDuplicate
	}
	if corr.Timestamp.IsZero() {
		corr.Timestamp = s.now().UTC()
	}
	stored := corr
	s.messages[corr.ID] = &stored
	s.bySource[key] = corr.ID
	s.byTarget[targetKey{target: corr.TargetMessageID, direction: corr.Direction}] = corr.ID
	return corr, nil
}

func (s *MemoryStore) UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "update message"); err != nil {
		return err
	}
	row, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	row.Content = content
	edited := editedAt.UTC()
	row.LastEditedAt = &edited
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "stats"); err != nil {
		return Stats{}, err
	}
	return Stats{
		ConversationLinks: int64(len(s.links)),
		ChannelLinks:      int64(len(s.chans)),
		Messages:          int64(len(s.messages)),
	}, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx, "ping")
}

// Close marks the store closed. Later calls fail with ErrStorageUnavailable.
func (s *MemoryStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
