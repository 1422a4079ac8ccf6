package treasury

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
)

// KV bucket names.
const (
	// BucketState holds the single aggregate State entry.
	BucketState = "COVAULT_STATE"
	// BucketProposals holds one entry per proposal, keyed by decimal id.
	BucketProposals = "COVAULT_PROPOSALS"
)

// stateKey is the single key in BucketState.
const stateKey = "state"

// casMaxAttempts bounds compare-and-set retry loops. Contention on a single
// treasury is expected to be low; hitting the bound returns ErrConflict.
const casMaxAttempts = 10

// Bucket is the subset of jetstream.KeyValue the store needs. Narrowed so
// tests can substitute an in-memory implementation.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

// Both the real KV buckets and the in-memory test bucket must satisfy it.
var _ Bucket = (jetstream.KeyValue)(nil)

// Store persists treasury state and proposals in KV buckets.
type Store struct {
	state     Bucket
	proposals Bucket
}

// NewStore creates a Store over the given JetStream context, creating the
// KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	state, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketState,
		Description: "Covault treasury aggregate state",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create state bucket: %w", err)
	}

	proposals, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketProposals,
		Description: "Covault treasury proposals",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create proposals bucket: %w", err)
	}

	return &Store{state: state, proposals: proposals}, nil
}

// NewStoreWithBuckets creates a Store over pre-built buckets.
func NewStoreWithBuckets(state, proposals Bucket) *Store {
	return &Store{state: state, proposals: proposals}
}

// proposalKey formats a proposal id as its KV key.
func proposalKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// EnsureState creates the initial State entry if none exists and returns the
// current state. The seed is only applied on first creation; afterwards the
// stored state is authoritative.
func (s *Store) EnsureState(ctx context.Context, seed State) (*State, error) {
	if seed.Members == nil {
		seed.Members = make(map[string]bool)
	}
	if seed.Deposits == nil {
		seed.Deposits = make(map[string]int64)
	}
	if seed.NextProposalID == 0 {
		seed.NextProposalID = 1
	}

	data, err := json.Marshal(&seed)
	if err != nil {
		return nil, fmt.Errorf("marshal seed state: %w", err)
	}

	if _, err := s.state.Create(ctx, stateKey, data); err != nil {
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("create state: %w", err)
		}
	}

	st, _, err := s.loadState(ctx)
	return st, err
}

// GetState returns the current aggregate state.
func (s *Store) GetState(ctx context.Context) (*State, error) {
	st, _, err := s.loadState(ctx)
	return st, err
}

func (s *Store) loadState(ctx context.Context) (*State, uint64, error) {
	entry, err := s.state.Get(ctx, stateKey)
	if err != nil {
		return nil, 0, fmt.Errorf("get state: %w", err)
	}

	var st State
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return nil, 0, fmt.Errorf("unmarshal state: %w", err)
	}
	if st.Members == nil {
		st.Members = make(map[string]bool)
	}
	if st.Deposits == nil {
		st.Deposits = make(map[string]int64)
	}

	return &st, entry.Revision(), nil
}

// MutateState applies fn to the current state and commits it with a
// compare-and-set on the entry revision, retrying on concurrent writers.
// If fn returns an error the mutation is abandoned with no state change.
func (s *Store) MutateState(ctx context.Context, fn func(*State) error) (*State, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		st, rev, err := s.loadState(ctx)
		if err != nil {
			return nil, err
		}

		if err := fn(st); err != nil {
			return nil, err
		}

		data, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("marshal state: %w", err)
		}

		if _, err := s.state.Update(ctx, stateKey, data, rev); err != nil {
			if isRevisionConflict(err) {
				continue
			}
			return nil, fmt.Errorf("update state: %w", err)
		}
		return st, nil
	}
	return nil, ErrConflict
}

// CreateProposal stores a new proposal. The key must not already exist;
// id uniqueness is guaranteed by the sequential allocation in MutateState.
func (s *Store) CreateProposal(ctx context.Context, p *Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	if _, err := s.proposals.Create(ctx, proposalKey(p.ID), data); err != nil {
		return fmt.Errorf("store proposal %d: %w", p.ID, err)
	}
	return nil
}

// GetProposal returns the proposal with the given id.
func (s *Store) GetProposal(ctx context.Context, id int64) (*Proposal, error) {
	p, _, err := s.loadProposal(ctx, id)
	return p, err
}

func (s *Store) loadProposal(ctx context.Context, id int64) (*Proposal, uint64, error) {
	entry, err := s.proposals.Get(ctx, proposalKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrProposalNotFound
		}
		return nil, 0, fmt.Errorf("get proposal %d: %w", id, err)
	}

	var p Proposal
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, 0, fmt.Errorf("unmarshal proposal %d: %w", id, err)
	}
	if p.Voted == nil {
		p.Voted = make(map[string]bool)
	}

	return &p, entry.Revision(), nil
}

// MutateProposal applies fn to the proposal and commits it with a
// compare-and-set, retrying on concurrent writers. fn sees a fresh copy on
// every attempt, so terminal and has-voted checks inside fn are race-safe:
// whichever caller commits first wins and the loser re-observes the new
// state on retry.
func (s *Store) MutateProposal(ctx context.Context, id int64, fn func(*Proposal) error) (*Proposal, error) {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		p, rev, err := s.loadProposal(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(p); err != nil {
			return nil, err
		}

		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal proposal %d: %w", id, err)
		}

		if _, err := s.proposals.Update(ctx, proposalKey(id), data, rev); err != nil {
			if isRevisionConflict(err) {
				continue
			}
			return nil, fmt.Errorf("update proposal %d: %w", id, err)
		}
		return p, nil
	}
	return nil, ErrConflict
}

// ListProposals returns all proposals in id order. Ids are sequential from
// 1, so the state's counter bounds the scan.
func (s *Store) ListProposals(ctx context.Context) ([]*Proposal, error) {
	st, err := s.GetState(ctx)
	if err != nil {
		return nil, err
	}

	proposals := make([]*Proposal, 0, st.NextProposalID-1)
	for id := int64(1); id < st.NextProposalID; id++ {
		p, err := s.GetProposal(ctx, id)
		if err != nil {
			if errors.Is(err, ErrProposalNotFound) {
				continue
			}
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// isRevisionConflict reports whether err is a KV compare-and-set failure
// (another writer committed between Get and Update).
func isRevisionConflict(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}
