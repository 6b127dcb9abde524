package services

import (
	"context"
	"errors"
	"strings"

	"github.com/yoockh/speaktest/internal/models"
	pgrepo "github.com/yoockh/speaktest/internal/repositories/postgres"
	"github.com/yoockh/speaktest/internal/utils"
)

type CreditService interface {
	// Reserve debits amount atomically and returns the remaining balance.
	Reserve(ctx context.Context, userID string, amount int64, reason string, meta map[string]any) (int64, error)
	// Compensate returns credits taken by a Reserve whose operation did not complete.
	Compensate(ctx context.Context, userID string, amount int64, reason string, meta map[string]any) (int64, error)
	Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
}

type creditService struct {
	credits pgrepo.CreditRepository
}

func NewCreditService(credits pgrepo.CreditRepository) CreditService {
	return &creditService{credits: credits}
}

func validateAmount(op, userID string, amount int64) error {
	if strings.TrimSpace(userID) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if amount <= 0 {
		return utils.E(utils.CodeInvalidArgument, op, "amount must be > 0", nil)
	}
	return nil
}

func (s *creditService) Reserve(ctx context.Context, userID string, amount int64, reason string, meta map[string]any) (int64, error) {
	const op = "CreditService.Reserve"
	if err := validateAmount(op, userID, amount); err != nil {
		return 0, err
	}

	balance, err := s.credits.Reserve(ctx, userID, amount, reason, meta)
	if errors.Is(err, utils.ErrInsufficientFunds) {
		return balance, utils.EDetails(utils.CodeInsufficientCredits, op, "not enough credits to start a test", err, map[string]any{
			"balance":  balance,
			"required": amount,
		})
	}
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to reserve credits", err)
	}
	return balance, nil
}

func (s *creditService) Compensate(ctx context.Context, userID string, amount int64, reason string, meta map[string]any) (int64, error) {
	const op = "CreditService.Compensate"
	if err := validateAmount(op, userID, amount); err != nil {
		return 0, err
	}
	balance, err := s.credits.Credit(ctx, userID, amount, models.CreditCompensate, reason, meta)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to refund credits", err)
	}
	return balance, nil
}

func (s *creditService) Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	const op = "CreditService.Grant"
	if err := validateAmount(op, userID, amount); err != nil {
		return 0, err
	}
	if reason == "" {
		reason = "manual grant"
	}
	balance, err := s.credits.Credit(ctx, userID, amount, models.CreditGrant, reason, nil)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to grant credits", err)
	}
	return balance, nil
}

func (s *creditService) Balance(ctx context.Context, userID string) (int64, error) {
	const op = "CreditService.Balance"
	if strings.TrimSpace(userID) == "" {
		return 0, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to read balance", err)
	}
	return balance, nil
}

func (s *creditService) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	const op = "CreditService.Transactions"
	if strings.TrimSpace(userID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out, err := s.credits.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transactions", err)
	}
	return out, nil
}
