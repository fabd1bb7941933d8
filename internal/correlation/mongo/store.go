// Package mongo implements correlation.Store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/memohai/crosschat/internal/correlation"
)

// DefaultDatabase is used when the connection string names no database.
const DefaultDatabase = "tgcrosschat"

type linkDoc struct {
	SourceIdentity string    `bson:"_id"`
	DisplayName    string    `bson:"display_name"`
	ThreadID       string    `bson:"thread_id"`
	CreatedAt      time.Time `bson:"created_at"`
}

type channelDoc struct {
	SourceChannelID string    `bson:"_id"`
	ThreadID        string    `bson:"thread_id"`
	CreatedBy       string    `bson:"created_by"`
	CreatedAt       time.Time `bson:"created_at"`
}

type messageDoc struct {
	ID                   string     `bson:"_id"`
	SourceMessageID      string     `bson:"source_message_id"`
	SourceConversationID string     `bson:"source_conversation_id"`
	TargetMessageID      string     `bson:"target_message_id"`
	TargetThreadID       string     `bson:"target_thread_id"`
	Direction            string     `bson:"direction"`
	Part                 int        `bson:"part"`
	Timestamp            time.Time  `bson:"timestamp"`
	IsReply              bool       `bson:"is_reply"`
	ReplyTargetID        *string    `bson:"reply_target_id,omitempty"`
	HasAttachment        bool       `bson:"has_attachment"`
	AttachmentName       *string    `bson:"attachment_name,omitempty"`
	LastEditedAt         *time.Time `bson:"last_edited_at,omitempty"`
	Content              string     `bson:"content"`
}

func (d messageDoc) record() correlation.MessageCorrelation {
	return correlation.MessageCorrelation{
		ID:                   d.ID,
		SourceMessageID:      d.SourceMessageID,
		SourceConversationID: d.SourceConversationID,
		TargetMessageID:      d.TargetMessageID,
		TargetThreadID:       d.TargetThreadID,
		Direction:            correlation.Direction(d.Direction),
		Part:                 d.Part,
		Timestamp:            d.Timestamp.UTC(),
		IsReply:              d.IsReply,
		ReplyTargetID:        d.ReplyTargetID,
		HasAttachment:        d.HasAttachment,
		AttachmentName:       d.AttachmentName,
		LastEditedAt:         d.LastEditedAt,
		Content:              d.Content,
	}
}

// Store is a MongoDB-backed correlation store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ correlation.Store = (*Store)(nil)

// Open connects to uri, verifies the connection and ensures indexes exist.
func Open(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, correlation.Unavailable("connect mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, correlation.Unavailable("ping mongo", err)
	}
	s := &Store{client: client, db: client.Database(DatabaseName(uri))}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// DatabaseName extracts the database from the URI path.
func DatabaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return DefaultDatabase
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return DefaultDatabase
	}
	return name
}

func (s *Store) links() *mongo.Collection    { return s.db.Collection("conversation_links") }
func (s *Store) channels() *mongo.Collection { return s.db.Collection("channel_links") }
func (s *Store) messages() *mongo.Collection { return s.db.Collection("message_correlations") }

// EnsureIndexes creates the unique and lookup indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	collections := map[*mongo.Collection][]mongo.IndexModel{
		s.links(): {
			{Keys: bson.D{{Key: "thread_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.channels(): {
			{Keys: bson.D{{Key: "thread_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.messages(): {
			{
				Keys: bson.D{
					{Key: "source_message_id", Value: 1},
					{Key: "direction", Value: 1},
					{Key: "part", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("unique_source_part"),
			},
			{Keys: bson.D{{Key: "target_message_id", Value: 1}, {Key: "direction", Value: 1}}},
		},
	}
	for coll, indexes := range collections {
		if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
			return correlation.Unavailable(fmt.Sprintf("create indexes for %s", coll.Name()), err)
		}
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return correlation.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return correlation.ErrDuplicate
	default:
		return correlation.Unavailable(op, err)
	}
}

func (s *Store) FindLink(ctx context.Context, identity string) (correlation.ConversationLink, error) {
	return s.findLink(ctx, "find link", bson.M{"_id": identity})
}

func (s *Store) FindLinkByThread(ctx context.Context, threadID string) (correlation.ConversationLink, error) {
	return s.findLink(ctx, "find link by thread", bson.M{"thread_id": threadID})
}

func (s *Store) findLink(ctx context.Context, op string, filter bson.M) (correlation.ConversationLink, error) {
	var doc linkDoc
	if err := s.links().FindOne(ctx, filter).Decode(&doc); err != nil {
		return correlation.ConversationLink{}, classify(op, err)
	}
	return correlation.ConversationLink{
		SourceIdentity: doc.SourceIdentity,
		DisplayName:    doc.DisplayName,
		ThreadID:       doc.ThreadID,
		CreatedAt:      doc.CreatedAt.UTC(),
	}, nil
}

func (s *Store) InsertLinkIfAbsent(ctx context.Context, link correlation.ConversationLink) (correlation.ConversationLink, bool, error) {
	if err := link.Validate(); err != nil {
		return correlation.ConversationLink{}, false, err
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	// BSON stores milliseconds; keep the returned value consistent with later reads.
	link.CreatedAt = link.CreatedAt.Truncate(time.Millisecond)
	_, err := s.links().InsertOne(ctx, linkDoc{
		SourceIdentity: link.SourceIdentity,
		DisplayName:    link.DisplayName,
		ThreadID:       link.ThreadID,
		CreatedAt:      link.CreatedAt,
	})
	if err == nil {
		return link, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return correlation.ConversationLink{}, false, classify("insert link", err)
	}
	existing, err := s.FindLink(ctx, link.SourceIdentity)
	if errors.Is(err, correlation.ErrNotFound) {
		return correlation.ConversationLink{}, false, correlation.ErrDuplicate
	}
	if err != nil {
		return correlation.ConversationLink{}, false, err
	}
	return existing, false, nil
}

func (s *Store) FindChannelLink(ctx context.Context, channelID string) (correlation.ChannelLink, error) {
	return s.findChannelLink(ctx, "find channel link", bson.M{"_id": channelID})
}

func (s *Store) FindChannelLinkByThread(ctx context.Context, threadID string) (correlation.ChannelLink, error) {
	return s.findChannelLink(ctx, "find channel link by thread", bson.M{"thread_id": threadID})
}

func (s *Store) findChannelLink(ctx context.Context, op string, filter bson.M) (correlation.ChannelLink, error) {
	var doc channelDoc
	if err := s.channels().FindOne(ctx, filter).Decode(&doc); err != nil {
		return correlation.ChannelLink{}, classify(op, err)
	}
	return correlation.ChannelLink{
		SourceChannelID: doc.SourceChannelID,
		ThreadID:        doc.ThreadID,
		CreatedBy:       doc.CreatedBy,
		CreatedAt:       doc.CreatedAt.UTC(),
	}, nil
}

func (s *Store) InsertChannelLinkIfAbsent(ctx context.Context, link correlation.ChannelLink) (correlation.ChannelLink, bool, error) {
	if err := link.Validate(); err != nil {
		return correlation.ChannelLink{}, false, err
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	link.CreatedAt = link.CreatedAt.Truncate(time.Millisecond)
	_, err := s.channels().InsertOne(ctx, channelDoc{
		SourceChannelID: link.SourceChannelID,
		ThreadID:        link.ThreadID,
		CreatedBy:       link.CreatedBy,
		CreatedAt:       link.CreatedAt,
	})
	if err == nil {
		return link, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
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
	res, err := s.channels().DeleteOne(ctx, bson.M{"thread_id": threadID})
	if err != nil {
		return classify("delete channel link", err)
	}
	if res.DeletedCount == 0 {
		return correlation.ErrNotFound
	}
	return nil
}

func (s *Store) FindMessage(ctx context.Context, sourceMessageID string, direction correlation.Direction) (correlation.MessageCorrelation, error) {
	return s.findMessage(ctx, "find message", bson.M{
		"source_message_id": sourceMessageID,
		"direction":         string(direction),
		"part":              0,
	})
}

func (s *Store) FindMessageByTarget(ctx context.Context, targetMessageID string, direction correlation.Direction) (correlation.MessageCorrelation, error) {
	return s.findMessage(ctx, "find message by target", bson.M{
		"target_message_id": targetMessageID,
		"direction":         string(direction),
	}, options.FindOne().SetSort(bson.D{{Key: "part", Value: 1}}))
}

func (s *Store) findMessage(ctx context.Context, op string, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (correlation.MessageCorrelation, error) {
	var doc messageDoc
	if err := s.messages().FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		return correlation.MessageCorrelation{}, classify(op, err)
	}
	return doc.record(), nil
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
	corr.Timestamp = corr.Timestamp.Truncate(time.Millisecond)
	_, err := s.messages().InsertOne(ctx, messageDoc{
		ID:                   corr.ID,
		SourceMessageID:      corr.SourceMessageID,
		SourceConversationID: corr.SourceConversationID,
		TargetMessageID:      corr.TargetMessageID,
		TargetThreadID:       corr.TargetThreadID,
		Direction:            string(corr.Direction),
		Part:                 corr.Part,
		Timestamp:            corr.Timestamp,
		IsReply:              corr.IsReply,
		ReplyTargetID:        corr.ReplyTargetID,
		HasAttachment:        corr.HasAttachment,
		AttachmentName:       corr.AttachmentName,
		LastEditedAt:         corr.LastEditedAt,
		Content:              corr.Content,
	})
	if err != nil {
		return correlation.MessageCorrelation{}, classify("insert message", err)
	}
	return corr, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id string, content string, editedAt time.Time) error {
	res, err := s.messages().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"content": content, "last_edited_at": editedAt.UTC()}},
	)
	if err != nil {
		return classify("update message", err)
	}
	if res.MatchedCount == 0 {
		return correlation.ErrNotFound
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (correlation.Stats, error) {
	var stats correlation.Stats
	var err error
	if stats.ConversationLinks, err = s.links().CountDocuments(ctx, bson.M{}); err != nil {
		return correlation.Stats{}, classify("stats", err)
	}
	if stats.ChannelLinks, err = s.channels().CountDocuments(ctx, bson.M{}); err != nil {
		return correlation.Stats{}, classify("stats", err)
	}
	if stats.Messages, err = s.messages().CountDocuments(ctx, bson.M{}); err != nil {
		return correlation.Stats{}, classify("stats", err)
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return correlation.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
