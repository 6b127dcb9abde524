package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TestSessionRepository interface {
	Create(ctx context.Context, s *models.TestSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.TestSession, error)
	// MarkStarted moves a not_started session to in_progress. ErrInvalidTransition
	// when the session is in any other status, ErrNotFound when it does not exist.
	MarkStarted(ctx context.Context, sessionID string, at time.Time) error
	AppendTurns(ctx context.Context, sessionID string, turns []models.ConversationTurn, at time.Time) error
	Complete(ctx context.Context, sessionID string, turns []models.ConversationTurn, report *models.TestReport, at time.Time) error
	Abandon(ctx context.Context, sessionID string, at time.Time) error
	ListStale(ctx context.Context, createdBefore time.Time, limit int64) ([]models.TestSession, error)
	ListCompletedByUser(ctx context.Context, userID string, limit, offset int64) ([]models.TestSession, int64, error)
}

type testSessionRepo struct {
	col *mongo.Collection
}

func NewTestSessionRepo(db *mongo.Database) TestSessionRepository {
	return &testSessionRepo{col: db.Collection("test_sessions")}
}

func openFilter(sessionID string) bson.M {
	return bson.M{
		"session_id": sessionID,
		"status":     bson.M{"$in": models.OpenStatuses},
	}
}

func (r *testSessionRepo) Create(ctx context.Context, s *models.TestSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Turns == nil {
		s.Turns = []models.ConversationTurn{}
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *testSessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.TestSession, error) {
	var s models.TestSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *testSessionRepo) MarkStarted(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{
		"session_id": sessionID,
		"status":     models.StatusNotStarted,
	}, bson.M{"$set": bson.M{
		"status":     models.StatusInProgress,
		"started_at": at.UTC(),
	}})
	if err != nil {
		return err
	}
	return r.checkMatched(ctx, sessionID, res)
}

func (r *testSessionRepo) AppendTurns(ctx context.Context, sessionID string, turns []models.ConversationTurn, at time.Time) error {
	// $min keeps the first start time when turns arrive in several batches.
	res, err := r.col.UpdateOne(ctx, openFilter(sessionID), bson.M{
		"$push": bson.M{"turns": bson.M{"$each": turns}},
		"$set":  bson.M{"status": models.StatusInProgress},
		"$min":  bson.M{"started_at": at.UTC()},
	})
	if err != nil {
		return err
	}
	return r.checkMatched(ctx, sessionID, res)
}

func (r *testSessionRepo) Complete(ctx context.Context, sessionID string, turns []models.ConversationTurn, report *models.TestReport, at time.Time) error {
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	res, err := r.col.UpdateOne(ctx, openFilter(sessionID), bson.M{"$set": bson.M{
		"status":       models.StatusCompleted,
		"turns":        turns,
		"report":       report,
		"completed_at": at.UTC(),
	}})
	if err != nil {
		return err
	}
	return r.checkMatched(ctx, sessionID, res)
}

func (r *testSessionRepo) Abandon(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.col.UpdateOne(ctx, openFilter(sessionID), bson.M{"$set": bson.M{
		"status":       models.StatusAbandoned,
		"completed_at": at.UTC(),
	}})
	if err != nil {
		return err
	}
	return r.checkMatched(ctx, sessionID, res)
}

func (r *testSessionRepo) ListStale(ctx context.Context, createdBefore time.Time, limit int64) ([]models.TestSession, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := r.col.Find(ctx,
		bson.M{
			"status":     bson.M{"$in": models.OpenStatuses},
			"created_at": bson.M{"$lt": createdBefore.UTC()},
		},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.TestSession
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *testSessionRepo) ListCompletedByUser(ctx context.Context, userID string, limit, offset int64) ([]models.TestSession, int64, error) {
	filter := bson.M{"user_id": userID, "status": models.StatusCompleted}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "completed_at", Value: -1}}).
			SetSkip(offset).
			SetLimit(limit).
			SetProjection(bson.M{"turns": 0, "report.evaluations": 0}),
	)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var out []models.TestSession
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// checkMatched tells a missing session apart from one that is no longer open.
func (r *testSessionRepo) checkMatched(ctx context.Context, sessionID string, res *mongo.UpdateResult) error {
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := r.col.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return err
	}
	if n == 0 {
		return utils.ErrNotFound
	}
	return utils.ErrInvalidTransition
}
