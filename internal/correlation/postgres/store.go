// Package postgres implements correlation.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/crosschat/internal/correlation"
)

const uniqueViolation = "23505"

// Store is a pgxpool-backed correlation store.
type Store struct {
	pool *pgxpool.Pool
}

var _ correlation.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, correlation.Unavailable("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, correlation.Unavailable("ping postgres", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return correlation.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return correlation.ErrDuplicate
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return correlation.Unavailable(op, err)
}

const linkColumns = `source_identity, display_name, thread_id, created_at`

func scanLink(row pgx.Row) (correlation.ConversationLink, error) {
	var link correlation.ConversationLink
	err := row.Scan(&link.SourceIdentity, &link.DisplayName, &link.ThreadID, &link.CreatedAt)
	return link, err
}

func (s *Store) FindLink(ctx context.Context, identity string) (correlation.ConversationLink, error) {
	link, err := scanLink(s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM conversation_links WHERE source_identity = $1`, identity))
	return link, classify("find link", err)
}

func (s *Store) FindLinkByThread(ctx context.Context, threadID string) (correlation.ConversationLink, error) {
	link, err := scanLink(s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM conversation_links WHERE thread_id = $1`, threadID))
	return link, classify("find link by thread", err)
}

func (s *Store) InsertLinkIfAbsent(ctx context.Context, link correlation.ConversationLink) (correlation.ConversationLink, bool, error) {
	if err := link.Validate(); err != nil {
		return correlation.ConversationLink{}, false, err
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	inserted, err := scanLink(s.pool.QueryRow(ctx, `
		INSERT INTO conversation_links (source_identity, display_name, thread_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING `+linkColumns,
		link.SourceIdentity, link.DisplayName, link.ThreadID, link.CreatedAt))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return correlation.ConversationLink{}, false, classify("insert link", err)
	}
	existing, err := s.FindLink(ctx, link.SourceIdentity)
	if errors.Is(err, correlation.ErrNotFound) {
		// the conflict was on thread_id, not on the identity
		return correlation.ConversationLink{}, false, correlation.ErrDuplicate
	}
	if err != nil {
		return correlation.ConversationLink{}, false, err
	}
	return existing, false, nil
}

const channelColumns = `source_channel_id, thread_id, created_by, created_at`

func scanChannelLink(row pgx.Row) (correlation.ChannelLink, error) {
	var link correlation.ChannelLink
	err := row.Scan(&link.SourceChannelID, &link.ThreadID, &link.CreatedBy, &link.CreatedAt)
	return link, err
}

func (s *Store) FindChannelLink(ctx context.Context, channelID string) (correlation.ChannelLink, error) {
	link, err := scanChannelLink(s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channel_links WHERE source_channel_id = $1`, channelID))
	return link, classify("find channel link", err)
}

func (s *Store) FindChannelLinkByThread(ctx context.Context, threadID string) (correlation.ChannelLink, error) {
	link, err := scanChannelLink(s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channel_links WHERE thread_id = $1`, threadID))
	return link, classify("find channel link by thread", err)
}

func (s *Store) InsertChannelLinkIfAbsent(ctx context.Context, link correlation.ChannelLink) (correlation.ChannelLink, bool, error) {
	if err := link.Validate(); err != nil {
		return correlation.ChannelLink{}, false, err
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	inserted, err := scanChannelLink(s.pool.QueryRow(ctx, `
		INSERT INTO channel_links (source_channel_id, thread_id, created_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING `+channelColumns,
		link.SourceChannelID, link.ThreadID, link.CreatedBy, link.CreatedAt))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return correlation.ChannelLink{}, false, classify("insert channel link", err)
	}
	existing, err := s.FindChannelLink(ctx, link.SourceChannelID)
	if errors.Is(err, correlation.ErrNotFound) {
		return correlation.ChannelLink{}, false, correlation.ErrDuplicate
	}
	if err != nil {
		return correlation.ChannelLink{}, false, err
	}
	return existing, false, nil
}

func (s *Store) DeleteChannelLink(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channel_links WHERE thread_id = $1`, threadID)
	if err != nil {
		return classify("delete channel link", err)
	}
	if tag.RowsAffected() == 0 {
		return correlation.ErrNotFound
	}
	return nil
}

const messageColumns = `id, source_message_id, source_conversation_id, target_message_id, target_thread_id,
	direction, part, ts, is_reply, reply_target_id, has_attachment, attachment_name, last_edited_at, content`

func scanMessage(row pgx.Row) (correlation.MessageCorrelation, error) {
	var (
		corr      correlation.MessageCorrelation
		direction string
	)
	err := row.Scan(
		&corr.ID,
		&corr.SourceMessageID,
		&corr.SourceConversationID,
		&corr.TargetMessageID,
		&corr.TargetThreadID,
		&direction,
		&corr.Part,
		&corr.Timestamp,
		&corr.IsReply,
		&corr.ReplyTargetID,
		&corr.HasAttachment,
		&corr.AttachmentName,
		&corr.LastEditedAt,
		&corr.Content,
	)
	corr.Direction = correlation.Direction(direction)
	return corr, err
}

func (s *Store) FindMessage(ctx context.Context, sourceMessageID string, direction correlation.Direction) (correlation.MessageCorrelation, error) {
	corr, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM message_correlations
		 WHERE source_message_id = $1 AND direction = $2 AND part = 0`,
		sourceMessageID, string(direction)))
	return corr, classify("find message", err)
}

func (s *Store) FindMessageByTarget(ctx context.Context, targetMessageID string, direction correlation.Direction) (correlation.MessageCorrelation, error) {
	corr, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM message_correlations
		 WHERE target_message_id = $1 AND direction = $2
		 ORDER BY part LIMIT 1`,
		targetMessageID, string(direction)))
	return corr, classify("find message by target", err)
}

func (s *Store) InsertMessage(ctx context.Context, corr correlation.MessageCorrelation) (correlation.MessageCorrelation, error) {
	if err := corr.Validate(); err != nil {
		return correlation.MessageCorrelation{}, err
	}
	if corr.ID == "" {
		corr.ID = uuid.NewString()
	}
	if corr.Timestamp.IsZero() {
		corr.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_correlations (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		corr.ID,
		corr.SourceMessageID,
		corr.SourceConversationID,
		corr.TargetMessageID,
		corr.TargetThreadID,
		string(corr.Direction),
		corr.Part,
		corr.Timestamp,
		corr.IsReply,
		corr.ReplyTargetID,
		corr.HasAttachment,
		corr.AttachmentName,
		corr.LastEditedAt,
		corr.Content,
	)
	if err != nil {
		return correlation.MessageCorrelation{}, classify("insert message", err)
	}
	return corr, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE message_correlations SET content = $2, last_edited_at = $3 WHERE id = $1`,
		id, content, editedAt.UTC())
	if err != nil {
		return classify("update message", err)
	}
	if tag.RowsAffected() == 0 {
		return correlation.ErrNotFound
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (correlation.Stats, error) {
	var stats correlation.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
		  (SELECT count(*) FROM conversation_links),
		  (SELECT count(*) FROM channel_links),
		  (SELECT count(*) FROM message_correlations)`,
	).Scan(&stats.ConversationLinks, &stats.ChannelLinks, &stats.Messages)
	if err != nil {
		return correlation.Stats{}, classify("stats", err)
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return correlation.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// truncate empties all tables. Used by tests only.
func (s *Store) truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE conversation_links, channel_links, message_correlations`)
	return err
}
