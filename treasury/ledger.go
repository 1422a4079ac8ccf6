package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/message"
)

// Ledger owns all treasury mutation: membership, deposits, proposals,
// votes, and execution. Every operation either fully commits and emits one
// event, or fails with no state change — except the documented
// terminal-before-transfer gap in execution (see Execute).
type Ledger struct {
	store     *Store
	bridge    TokenBridge
	publisher Publisher
	logger    *slog.Logger

	// source tags emitted events with the publishing component.
	source string
}

// NewLedger builds a Ledger over the given store, token bridge, and event
// publisher.
func NewLedger(store *Store, bridge TokenBridge, publisher Publisher, source string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:     store,
		bridge:    bridge,
		publisher: publisher,
		logger:    logger,
		source:    source,
	}
}

// Store exposes read access to the underlying store.
func (l *Ledger) Store() *Store {
	return l.store
}

// Bridge exposes the token bridge, for balance reads by API consumers.
func (l *Ledger) Bridge() TokenBridge {
	return l.bridge
}

// requireAdmin fails unless caller is the registered admin.
func requireAdmin(s *State, caller string) error {
	if caller == "" || caller != s.Admin {
		return ErrUnauthorized
	}
	return nil
}

// AddMember marks identity as a current member. Admin only.
func (l *Ledger) AddMember(ctx context.Context, caller, identity string) error {
	if identity == "" {
		return fmt.Errorf("add member: identity is empty")
	}

	st, err := l.store.MutateState(ctx, func(s *State) error {
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		if s.Members[identity] {
			return ErrAlreadyMember
		}
		s.Members[identity] = true
		return nil
	})
	if err != nil {
		return err
	}

	l.emit(ctx, SubjectMemberAdded, MemberAddedType, &MemberAddedEvent{
		EventID:     newEventID(),
		Identity:    identity,
		MemberCount: st.MemberCount(),
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// RemoveMember clears identity's membership. Admin only. Deposit history
// and votes already cast are untouched: later majority computations simply
// use the lower live member count.
func (l *Ledger) RemoveMember(ctx context.Context, caller, identity string) error {
	st, err := l.store.MutateState(ctx, func(s *State) error {
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		if !s.Members[identity] {
			return ErrNotMember
		}
		delete(s.Members, identity)
		return nil
	})
	if err != nil {
		return err
	}

	l.emit(ctx, SubjectMemberRemoved, MemberRemovedType, &MemberRemovedEvent{
		EventID:     newEventID(),
		Identity:    identity,
		MemberCount: st.MemberCount(),
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// SetOracle replaces the registered oracle identity. Admin only. An empty
// identity disables the autonomous execution path entirely.
func (l *Ledger) SetOracle(ctx context.Context, caller, identity string) error {
	var old string
	_, err := l.store.MutateState(ctx, func(s *State) error {
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		old = s.Oracle
		s.Oracle = identity
		return nil
	})
	if err != nil {
		return err
	}

	l.emit(ctx, SubjectOracleUpdated, OracleUpdatedType, &OracleUpdatedEvent{
		EventID:   newEventID(),
		Old:       old,
		New:       identity,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Deposit pulls amount from the member's external account into custody and
// records it. The external transfer runs first; accounting only updates
// after it succeeds.
func (l *Ledger) Deposit(ctx context.Context, identity string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	st, err := l.store.GetState(ctx)
	if err != nil {
		return err
	}
	if !st.Members[identity] {
		return ErrNotMember
	}

	if err := l.bridge.TransferIn(ctx, identity, amount); err != nil {
		return fmt.Errorf("transfer in: %w", err)
	}

	st, err = l.store.MutateState(ctx, func(s *State) error {
		if !s.Members[identity] {
			return ErrNotMember
		}
		s.Deposits[identity] += amount
		s.TotalDeposits += amount
		return nil
	})
	if err != nil {
		// Funds already moved into custody; push them back so custody
		// and accounting stay consistent.
		if rbErr := l.bridge.TransferOut(ctx, identity, amount); rbErr != nil {
			l.logger.Error("Deposit rollback failed, custody holds unaccounted funds",
				"identity", identity,
				"amount", amount,
				"error", rbErr)
		}
		return err
	}

	l.emit(ctx, SubjectDeposited, DepositedType, &DepositedEvent{
		EventID:       newEventID(),
		Identity:      identity,
		Amount:        amount,
		TotalDeposits: st.TotalDeposits,
		Timestamp:     time.Now().UTC(),
	})
	return nil
}

// CreateProposal allocates the next sequential id and stores a new proposal
// with zero tallies. Returns the new id. No balance effect.
func (l *Ledger) CreateProposal(ctx context.Context, proposer, recipient string, amount int64, description string) (int64, error) {
	if recipient == "" {
		return 0, ErrInvalidRecipient
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var id int64
	_, err := l.store.MutateState(ctx, func(s *State) error {
		if !s.Members[proposer] {
			return ErrNotMember
		}
		id = s.NextProposalID
		s.NextProposalID++
		return nil
	})
	if err != nil {
		return 0, err
	}

	p := &Proposal{
		ID:          id,
		Proposer:    proposer,
		Recipient:   recipient,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Voted:       make(map[string]bool),
	}
	if err := l.store.CreateProposal(ctx, p); err != nil {
		// The allocated id is burned; readers tolerate the gap.
		return 0, err
	}

	l.emit(ctx, SubjectProposalCreated, ProposalCreatedType, &ProposalCreatedEvent{
		EventID:     newEventID(),
		ProposalID:  p.ID,
		Proposer:    p.Proposer,
		Recipient:   p.Recipient,
		Amount:      p.Amount,
		Description: p.Description,
		Timestamp:   p.CreatedAt,
	})
	return id, nil
}

// Vote records a one-time, irrevocable vote by a current member. Votes are
// frozen once the proposal's terminal flag is set.
func (l *Ledger) Vote(ctx context.Context, voter string, id int64, support bool) error {
	st, err := l.store.GetState(ctx)
	if err != nil {
		return err
	}
	if !st.Members[voter] {
		return ErrNotMember
	}

	p, err := l.store.MutateProposal(ctx, id, func(p *Proposal) error {
		if p.Executed {
			return ErrProposalExecuted
		}
		if p.HasVoted(voter) {
			return ErrAlreadyVoted
		}
		p.Voted[voter] = true
		if support {
			p.VotesFor++
		} else {
			p.VotesAgainst++
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.emit(ctx, SubjectVoted, VotedType, &VotedEvent{
		EventID:      newEventID(),
		ProposalID:   id,
		Voter:        voter,
		Support:      support,
		VotesFor:     p.VotesFor,
		VotesAgainst: p.VotesAgainst,
		Timestamp:    time.Now().UTC(),
	})
	return nil
}

// ExecuteProposal executes an approved proposal. Any caller. Approval is
// strict majority of the live member count, evaluated now — not at proposal
// creation.
func (l *Ledger) ExecuteProposal(ctx context.Context, executor string, id int64) error {
	st, err := l.store.GetState(ctx)
	if err != nil {
		return err
	}

	p, err := l.store.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrProposalExecuted
	}
	if p.VotesFor < st.MajorityThreshold() {
		return ErrNotApproved
	}

	return l.execute(ctx, executor, id, false)
}

// AutoExecute executes a proposal on the oracle's sole authority, bypassing
// the vote check entirely. Only the registered oracle identity may call it;
// the ledger does not second-guess the oracle's decision.
func (l *Ledger) AutoExecute(ctx context.Context, caller string, id int64) error {
	st, err := l.store.GetState(ctx)
	if err != nil {
		return err
	}
	if st.Oracle == "" || caller != st.Oracle {
		return ErrUnauthorizedOracle
	}

	p, err := l.store.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Executed {
		return ErrProposalExecuted
	}

	return l.execute(ctx, caller, id, true)
}

// execute runs the shared tail of both execution paths: balance check,
// terminal flag commit, outbound transfer, event.
//
// The terminal flag commits strictly before the transfer. A transfer
// failure after the commit leaves the proposal terminal and unpaid — a
// stuck proposal is accepted in exchange for an unconditional guarantee
// against double payment. The compare-and-set inside MutateProposal makes
// racing callers settle on exactly one winner; the loser re-reads the
// committed flag and fails with ErrProposalExecuted.
func (l *Ledger) execute(ctx context.Context, executor string, id int64, oracle bool) error {
	var amount int64
	var recipient string

	balance, err := l.bridge.Balance(ctx)
	if err != nil {
		return fmt.Errorf("read custody balance: %w", err)
	}

	p, err := l.store.MutateProposal(ctx, id, func(p *Proposal) error {
		if p.Executed {
			return ErrProposalExecuted
		}
		if balance < p.Amount {
			return ErrInsufficientFunds
		}
		p.Executed = true
		p.ExecutedBy = executor
		p.ExecutedByOracle = oracle
		p.ExecutedAt = time.Now().UTC()
		amount = p.Amount
		recipient = p.Recipient
		return nil
	})
	if err != nil {
		return err
	}

	if err := l.bridge.TransferOut(ctx, recipient, amount); err != nil {
		l.logger.Error("Outbound transfer failed after terminal commit, proposal is stuck",
			"proposal_id", id,
			"recipient", recipient,
			"amount", amount,
			"error", err)
		return fmt.Errorf("proposal %d terminal but unpaid, transfer out: %w", id, err)
	}

	l.emit(ctx, SubjectExecuted, ExecutedType, &ExecutedEvent{
		EventID:    newEventID(),
		ProposalID: id,
		Executor:   executor,
		Recipient:  recipient,
		Amount:     amount,
		Oracle:     oracle,
		Timestamp:  p.ExecutedAt,
	})
	return nil
}

// emit publishes a committed operation's event. The KV commit is the source
// of truth; a failed emission is logged, not rolled back.
func (l *Ledger) emit(ctx context.Context, subject string, t message.Type, payload message.Payload) {
	data, err := marshalEvent(t, payload, l.source)
	if err != nil {
		l.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, subject, data); err != nil {
		l.logger.Error("Failed to publish event", "subject", subject, "error", err)
	}
}
