package treasury

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVTokenBank_Transfers(t *testing.T) {
	ctx := context.Background()
	bank, err := NewKVTokenBankWithBucket(ctx, NewMemBucket(), map[string]int64{"alice": 100})
	require.NoError(t, err)

	require.NoError(t, bank.TransferIn(ctx, "alice", 60))

	balance, err := bank.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	aliceBalance, err := bank.AccountBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), aliceBalance)

	require.NoError(t, bank.TransferOut(ctx, "vendor", 25))
	vendorBalance, err := bank.AccountBalance(ctx, "vendor")
	require.NoError(t, err)
	assert.Equal(t, int64(25), vendorBalance)
}

func TestKVTokenBank_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	bank, err := NewKVTokenBankWithBucket(ctx, NewMemBucket(), map[string]int64{"alice": 10})
	require.NoError(t, err)

	err = bank.TransferIn(ctx, "alice", 50)
	assert.ErrorIs(t, err, ErrBankInsufficientFunds)

	// Failed transfers move nothing.
	balance, err := bank.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)

	aliceBalance, err := bank.AccountBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), aliceBalance)
}

func TestKVTokenBank_SeedOnlyAppliesOnce(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemBucket()

	bank, err := NewKVTokenBankWithBucket(ctx, bucket, map[string]int64{"alice": 100})
	require.NoError(t, err)
	require.NoError(t, bank.TransferIn(ctx, "alice", 30))

	// Re-opening over the same bucket must not reset balances.
	bank2, err := NewKVTokenBankWithBucket(ctx, bucket, map[string]int64{"alice": 999})
	require.NoError(t, err)

	balance, err := bank2.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestKVTokenBank_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	bank, err := NewKVTokenBankWithBucket(ctx, NewMemBucket(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, bank.TransferIn(ctx, "alice", 0), ErrInvalidAmount)
	assert.ErrorIs(t, bank.TransferOut(ctx, "alice", -1), ErrInvalidAmount)
}
