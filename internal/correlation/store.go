package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates no row matches the lookup.
	ErrNotFound = errors.New("correlation not found")
	// ErrDuplicate indicates a unique key already exists.
	ErrDuplicate = errors.New("correlation already exists")
	// ErrStorageUnavailable indicates the backend could not serve the request.
	ErrStorageUnavailable = errors.New("correlation storage unavailable")
	// ErrInvalidRecord indicates a record failed validation at the storage boundary.
	ErrInvalidRecord = errors.New("invalid correlation record")
)

// Unavailable wraps a backend failure so it matches ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// LinkStore persists Discord user to Telegram topic links.
type LinkStore interface {
	FindLink(ctx context.Context, identity string) (ConversationLink, error)
	FindLinkByThread(ctx context.Context, threadID string) (ConversationLink, error)
	// InsertLinkIfAbsent inserts link unless a row with the same source identity exists,
	// in which case the existing row is returned with created=false.
	InsertLinkIfAbsent(ctx context.Context, link ConversationLink) (ConversationLink, bool, error)
}

// ChannelLinkStore persists operator-created Discord channel to Telegram topic links.
type ChannelLinkStore interface {
	FindChannelLink(ctx context.Context, channelID string) (ChannelLink, error)
	FindChannelLinkByThread(ctx context.Context, threadID string) (ChannelLink, error)
	InsertChannelLinkIfAbsent(ctx context.Context, link ChannelLink) (ChannelLink, bool, error)
	DeleteChannelLink(ctx context.Context, threadID string) error
}

// MessageStore persists per-message correlations.
type MessageStore interface {
	// FindMessage returns the text row (Part 0) forwarded from sourceMessageID in direction.
	FindMessage(ctx context.Context, sourceMessageID string, direction Direction) (MessageCorrelation, error)
	// FindMessageByTarget returns the row whose forwarded copy is targetMessageID.
	FindMessageByTarget(ctx context.Context, targetMessageID string, direction Direction) (MessageCorrelation, error)
	// InsertMessage stores corr, assigning ID and Timestamp when empty.
	InsertMessage(ctx context.Context, corr MessageCorrelation) (MessageCorrelation, error)
	UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error
}

// Store is the full correlation persistence interface.
type Store interface {
	LinkStore
	ChannelLinkStore
	MessageStore
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var errStoreClosed = errors.New("store closed")
