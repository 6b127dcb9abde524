package postgres

import (
	"context"

	"github.com/yoockh/speaktest/internal/models"
	"gorm.io/gorm"
)

type TurnLogRepository interface {
	InsertBatch(ctx context.Context, rows []models.TurnLog) error
}

type turnLogRepo struct {
	db *gorm.DB
}

func NewTurnLogRepo(db *gorm.DB) TurnLogRepository {
	return &turnLogRepo{db: db}
}

func (r *turnLogRepo) InsertBatch(ctx context.Context, rows []models.TurnLog) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}
