package mongodb

import (
	"context"
	"fmt"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bodyCollection = "mail_bodies"

// bodyRetention is how long full bodies are kept before the TTL index
// reclaims them. Metadata in Postgres outlives the body.
const bodyRetention = 90 * 24 * time.Hour

// BodyAdapter implements out.EmailBodyRepository on MongoDB. Bodies are
// bulky and schemaless, which is why they live here and not in Postgres.
type BodyAdapter struct {
	collection *mongo.Collection
}

type bodyDocument struct {
	MessageID   string               `bson:"message_id"`
	UserID      string               `bson:"user_id"`
	Text        string               `bson:"text,omitempty"`
	HTML        string               `bson:"html,omitempty"`
	Attachments []*domain.Attachment `bson:"attachments,omitempty"`
	CreatedAt   time.Time            `bson:"created_at"`
}

func NewBodyAdapter(client *mongo.Client, database string) (*BodyAdapter, error) {
	adapter := &BodyAdapter{
		collection: client.Database(database).Collection(bodyCollection),
	}
	if err := adapter.ensureIndexes(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (a *BodyAdapter) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(bodyRetention.Seconds())),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create body indexes: %w", err)
	}
	return nil
}

func (a *BodyAdapter) Save(ctx context.Context, body *domain.EmailBody) error {
	doc := bodyDocument{
		MessageID:   body.MessageID,
		UserID:      body.UserID,
		Text:        body.Text,
		HTML:        body.HTML,
		Attachments: body.Attachments,
		CreatedAt:   body.CreatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	filter := bson.M{"user_id": body.UserID, "message_id": body.MessageID}
	opts := options.Replace().SetUpsert(true)
	_, err := a.collection.ReplaceOne(ctx, filter, doc, opts)
	return err
}

func (a *BodyAdapter) Get(ctx context.Context, userID, messageID string) (*domain.EmailBody, error) {
	var doc bodyDocument
	filter := bson.M{"user_id": userID, "message_id": messageID}
	if err := a.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &domain.EmailBody{
		MessageID:   doc.MessageID,
		UserID:      doc.UserID,
		Text:        doc.Text,
		HTML:        doc.HTML,
		Attachments: doc.Attachments,
		CreatedAt:   doc.CreatedAt,
	}, nil
}

func (a *BodyAdapter) Delete(ctx context.Context, userID, messageID string) error {
	filter := bson.M{"user_id": userID, "message_id": messageID}
	_, err := a.collection.DeleteOne(ctx, filter)
	return err
}

var _ out.EmailBodyRepository = (*BodyAdapter)(nil)
