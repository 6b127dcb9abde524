package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreditRepository interface {
	// Reserve deducts amount only if the balance covers it, in one statement.
	// On a short balance it returns the untouched balance and utils.ErrInsufficientFunds.
	Reserve(ctx context.Context, userID string, amount int64, description string, meta map[string]any) (int64, error)
	// Credit adds amount (compensation or grant) and returns the new balance.
	Credit(ctx context.Context, userID string, amount int64, kind models.CreditKind, description string, meta map[string]any) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
}

type creditRepo struct {
	db *gorm.DB
}

func NewCreditRepo(db *gorm.DB) CreditRepository {
	return &creditRepo{db: db}
}

func (r *creditRepo) Reserve(ctx context.Context, userID string, amount int64, description string, meta map[string]any) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.CreditAccount{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", amount),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err := balanceOf(tx, userID)
			if err != nil {
				return err
			}
			balance = current
			return utils.ErrInsufficientFunds
		}

		current, err := balanceOf(tx, userID)
		if err != nil {
			return err
		}
		balance = current
		return tx.Create(newTransaction(userID, models.CreditReserve, -amount, balance, description, meta, now)).Error
	})
	return balance, err
}

func (r *creditRepo) Credit(ctx context.Context, userID string, amount int64, kind models.CreditKind, description string, meta map[string]any) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		acct := &models.CreditAccount{UserID: userID, Balance: amount, UpdatedAt: now}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("credit_accounts.balance + ?", amount),
				"updated_at": now,
			}),
		}).Create(acct).Error
		if err != nil {
			return err
		}

		current, err := balanceOf(tx, userID)
		if err != nil {
			return err
		}
		balance = current
		return tx.Create(newTransaction(userID, kind, amount, balance, description, meta, now)).Error
	})
	return balance, err
}

func (r *creditRepo) Balance(ctx context.Context, userID string) (int64, error) {
	return balanceOf(r.db.WithContext(ctx), userID)
}

func (r *creditRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// balanceOf treats a missing account as an empty one.
func balanceOf(db *gorm.DB, userID string) (int64, error) {
	var acct models.CreditAccount
	err := db.Where("user_id = ?", userID).Take(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func newTransaction(userID string, kind models.CreditKind, amount, balanceAfter int64, description string, meta map[string]any, at time.Time) *models.CreditTransaction {
	var raw datatypes.JSON
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			raw = datatypes.JSON(b)
		}
	}
	return &models.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		Metadata:     raw,
		CreatedAt:    at,
	}
}
