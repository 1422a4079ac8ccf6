package treasury

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// TokenBridge is the external value-transfer collaborator. Both transfer
// operations are all-or-nothing: on error no balance has moved. The ledger
// never derives custody balance from its own deposit sums for execution
// checks; Balance is authoritative.
type TokenBridge interface {
	// TransferIn pulls amount from the identity's external account into
	// treasury custody.
	TransferIn(ctx context.Context, from string, amount int64) error

	// TransferOut pushes amount from treasury custody to the recipient's
	// external account.
	TransferOut(ctx context.Context, to string, amount int64) error

	// Balance returns the current custody balance.
	Balance(ctx context.Context) (int64, error)
}

// ErrBankInsufficientFunds is returned by the bank when the source account
// cannot cover a transfer.
var ErrBankInsufficientFunds = errors.New("account balance too low for transfer")

// BucketBank is the KV bucket backing the dev token bank.
const BucketBank = "COVAULT_BANK"

// CustodyAccount is the bank account holding pooled treasury funds.
const CustodyAccount = "treasury"

// bankAccountsKey is the single KV key holding all account balances. One
// entry keeps every transfer a single compare-and-set, so both legs of a
// transfer commit together.
const bankAccountsKey = "accounts"

// KVTokenBank is a TokenBridge for local and test deployments, backed by a
// KV bucket of account balances. It stands in for the real value medium;
// production deployments supply their own TokenBridge.
type KVTokenBank struct {
	bucket Bucket
}

// NewKVTokenBank creates the bank bucket if needed and seeds account
// balances. Seeding only applies when no accounts entry exists yet.
func NewKVTokenBank(ctx context.Context, js jetstream.JetStream, seed map[string]int64) (*KVTokenBank, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketBank,
		Description: "Covault dev token bank accounts",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create bank bucket: %w", err)
	}

	bank := &KVTokenBank{bucket: bucket}
	if err := bank.ensureAccounts(ctx, seed); err != nil {
		return nil, err
	}
	return bank, nil
}

// NewKVTokenBankWithBucket creates a bank over a pre-built bucket.
func NewKVTokenBankWithBucket(ctx context.Context, bucket Bucket, seed map[string]int64) (*KVTokenBank, error) {
	bank := &KVTokenBank{bucket: bucket}
	if err := bank.ensureAccounts(ctx, seed); err != nil {
		return nil, err
	}
	return bank, nil
}

func (b *KVTokenBank) ensureAccounts(ctx context.Context, seed map[string]int64) error {
	accounts := make(map[string]int64, len(seed)+1)
	for id, balance := range seed {
		accounts[id] = balance
	}
	if _, ok := accounts[CustodyAccount]; !ok {
		accounts[CustodyAccount] = 0
	}

	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("marshal seed accounts: %w", err)
	}

	if _, err := b.bucket.Create(ctx, bankAccountsKey, data); err != nil {
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("create bank accounts: %w", err)
		}
	}
	return nil
}

// TransferIn moves amount from the identity's account into custody.
func (b *KVTokenBank) TransferIn(ctx context.Context, from string, amount int64) error {
	return b.transfer(ctx, from, CustodyAccount, amount)
}

// TransferOut moves amount from custody to the recipient's account.
func (b *KVTokenBank) TransferOut(ctx context.Context, to string, amount int64) error {
	return b.transfer(ctx, CustodyAccount, to, amount)
}

func (b *KVTokenBank) transfer(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		accounts, rev, err := b.loadAccounts(ctx)
		if err != nil {
			return err
		}

		if accounts[from] < amount {
			return fmt.Errorf("%w: account %s holds %d, need %d",
				ErrBankInsufficientFunds, from, accounts[from], amount)
		}
		accounts[from] -= amount
		accounts[to] += amount

		data, err := json.Marshal(accounts)
		if err != nil {
			return fmt.Errorf("marshal accounts: %w", err)
		}

		if _, err := b.bucket.Update(ctx, bankAccountsKey, data, rev); err != nil {
			if isRevisionConflict(err) {
				continue
			}
			return fmt.Errorf("update accounts: %w", err)
		}
		return nil
	}
	return ErrConflict
}

// Balance returns the custody account balance.
func (b *KVTokenBank) Balance(ctx context.Context) (int64, error) {
	accounts, _, err := b.loadAccounts(ctx)
	if err != nil {
		return 0, err
	}
	return accounts[CustodyAccount], nil
}

// AccountBalance returns the balance of an arbitrary bank account.
func (b *KVTokenBank) AccountBalance(ctx context.Context, identity string) (int64, error) {
	accounts, _, err := b.loadAccounts(ctx)
	if err != nil {
		return 0, err
	}
	return accounts[identity], nil
}

func (b *KVTokenBank) loadAccounts(ctx context.Context) (map[string]int64, uint64, error) {
	entry, err := b.bucket.Get(ctx, bankAccountsKey)
	if err != nil {
		return nil, 0, fmt.Errorf("get bank accounts: %w", err)
	}

	var accounts map[string]int64
	if err := json.Unmarshal(entry.Value(), &accounts); err != nil {
		return nil, 0, fmt.Errorf("unmarshal bank accounts: %w", err)
	}
	if accounts == nil {
		accounts = make(map[string]int64)
	}
	return accounts, entry.Revision(), nil
}
