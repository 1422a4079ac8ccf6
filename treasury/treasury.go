// Package treasury implements a shared-custody treasury: members deposit a
// fungible token into a common pool, propose expenditures, vote by simple
// majority, and release funds either through majority approval or through a
// registered oracle identity acting under its own decision policy.
//
// All state lives in NATS JetStream KV buckets and every mutation is
// committed with a compare-and-set on the entry revision, so concurrent
// callers race safely: exactly one execution per proposal, one vote per
// identity per proposal.
package treasury

import "time"

// State is the aggregate treasury record: membership, deposit accounting,
// the privileged identities, and the proposal id counter. It is stored as a
// single KV entry so every mutation of it is one atomic compare-and-set.
type State struct {
	// Admin is the single privileged identity allowed to manage members
	// and the oracle registration.
	Admin string `json:"admin"`

	// Oracle is the identity allowed to call AutoExecute. Empty disables
	// the autonomous execution path.
	Oracle string `json:"oracle"`

	// Members maps identity to current membership.
	Members map[string]bool `json:"members"`

	// Deposits maps identity to cumulative deposited amount. Entries
	// survive member removal.
	Deposits map[string]int64 `json:"deposits"`

	// TotalDeposits is the sum of all per-member deposits.
	TotalDeposits int64 `json:"total_deposits"`

	// NextProposalID is the id the next created proposal receives.
	// Ids start at 1 and are strictly increasing.
	NextProposalID int64 `json:"next_proposal_id"`
}

// MemberCount returns the number of current members.
func (s *State) MemberCount() int {
	n := 0
	for _, ok := range s.Members {
		if ok {
			n++
		}
	}
	return n
}

// MajorityThreshold returns the votes-for needed for approval:
// floor(memberCount/2) + 1, computed against the live member count.
func (s *State) MajorityThreshold() int {
	return s.MemberCount()/2 + 1
}

// Proposal is a request to transfer Amount to Recipient, pending approval.
// Tally fields and the terminal flag are the only mutable parts; a proposal
// is never deleted.
type Proposal struct {
	ID          int64     `json:"id"`
	Proposer    string    `json:"proposer"`
	Recipient   string    `json:"recipient"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	VotesFor     int             `json:"votes_for"`
	VotesAgainst int             `json:"votes_against"`
	Voted        map[string]bool `json:"voted,omitempty"`

	// Executed is the one-way terminal flag. Once set, no further votes
	// or executions are accepted.
	Executed         bool      `json:"executed"`
	ExecutedBy       string    `json:"executed_by,omitempty"`
	ExecutedByOracle bool      `json:"executed_by_oracle,omitempty"`
	ExecutedAt       time.Time `json:"executed_at,omitzero"`
}

// HasVoted reports whether identity already voted on this proposal.
func (p *Proposal) HasVoted(identity string) bool {
	return p.Voted[identity]
}
