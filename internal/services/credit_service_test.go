package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/utils"
)

func TestCreditService_Reserve(t *testing.T) {
	repo := newFakeCreditRepo(map[string]int64{"u1": 12})
	svc := NewCreditService(repo)

	left, err := svc.Reserve(context.Background(), "u1", 10, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)

	left, err = svc.Reserve(context.Background(), "u1", 10, "test", nil)
	assert.Equal(t, utils.CodeInsufficientCredits, utils.CodeOf(err))
	assert.Equal(t, int64(2), left)
	assert.ErrorIs(t, err, utils.ErrInsufficientFunds)
}

func TestCreditService_ValidatesInput(t *testing.T) {
	svc := NewCreditService(newFakeCreditRepo(nil))
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "", 10, "", nil)
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
	_, err = svc.Compensate(ctx, "u1", 0, "", nil)
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
	_, err = svc.Grant(ctx, "u1", -5, "")
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
	_, err = svc.Balance(ctx, " ")
	assert.Equal(t, utils.CodeInvalidArgument, utils.CodeOf(err))
}

func TestCreditService_GrantAndCompensate(t *testing.T) {
	repo := newFakeCreditRepo(nil)
	svc := NewCreditService(repo)
	ctx := context.Background()

	bal, err := svc.Grant(ctx, "u2", 30, "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)

	_, err = svc.Reserve(ctx, "u2", 10, "test", nil)
	require.NoError(t, err)
	bal, err = svc.Compensate(ctx, "u2", 10, "refund", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)

	txs, err := svc.Transactions(ctx, "u2", 0)
	require.NoError(t, err)
	kinds := make([]models.CreditKind, 0, len(txs))
	for _, tx := range txs {
		kinds = append(kinds, tx.Kind)
	}
	assert.Equal(t, []models.CreditKind{models.CreditGrant, models.CreditReserve, models.CreditCompensate}, kinds)

	repo.creditErr = errBoom
	_, err = svc.Compensate(ctx, "u2", 10, "refund", nil)
	assert.Equal(t, utils.CodeInternal, utils.CodeOf(err))
}
