package mongo

import (
	"context"
	"time"

	"github.com/yoockh/speaktest/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AudioChunkRepository interface {
	Insert(ctx context.Context, c *models.AudioChunk) error
	NextIndex(ctx context.Context, sessionID string) (int64, error)
	UpdateSTT(ctx context.Context, sessionID string, chunkIndex int64, transcript string, confidence float64, status string) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.AudioChunk, error)
}

type audioChunkRepo struct {
	col *mongo.Collection
}

func NewAudioChunkRepo(db *mongo.Database) AudioChunkRepository {
	return &audioChunkRepo{col: db.Collection("audio_chunks")}
}

func (r *audioChunkRepo) Insert(ctx context.Context, c *models.AudioChunk) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, c)
	return err
}

// NextIndex returns max(chunk_index)+1 for the session, starting at 1.
// The unique (session_id, chunk_index) index rejects a racing duplicate.
func (r *audioChunkRepo) NextIndex(ctx context.Context, sessionID string) (int64, error) {
	var last models.AudioChunk
	err := r.col.FindOne(ctx,
		bson.M{"session_id": sessionID},
		options.FindOne().SetSort(bson.D{{Key: "chunk_index", Value: -1}}),
	).Decode(&last)
	if err == mongo.ErrNoDocuments {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return last.ChunkIndex + 1, nil
}

func (r *audioChunkRepo) UpdateSTT(ctx context.Context, sessionID string, chunkIndex int64, transcript string, confidence float64, status string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "chunk_index": chunkIndex},
		bson.M{"$set": bson.M{
			"transcript":     transcript,
			"stt_confidence": confidence,
			"stt_status":     status,
		}},
	)
	return err
}

func (r *audioChunkRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.AudioChunk, error) {
	if limit <= 0 {
		limit = 200
	}

	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().
			SetSort(bson.D{{Key: "chunk_index", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AudioChunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
