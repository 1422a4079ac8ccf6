package treasury

import "errors"

// Ledger operation errors. All are terminal for the attempted call:
// retrying with the same arguments will not succeed, except
// ErrInsufficientFunds which may clear after future deposits.
var (
	// ErrUnauthorized is returned when a non-admin caller attempts an
	// administrative operation.
	ErrUnauthorized = errors.New("caller is not the treasury admin")

	// ErrUnauthorizedOracle is returned when AutoExecute is called by an
	// identity other than the registered oracle.
	ErrUnauthorizedOracle = errors.New("caller is not the registered oracle")

	// ErrNotMember is returned when the caller or subject identity is not
	// a current member.
	ErrNotMember = errors.New("identity is not a member")

	// ErrAlreadyMember is returned when adding an identity that is
	// already a member.
	ErrAlreadyMember = errors.New("identity is already a member")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidRecipient is returned for an empty recipient identity.
	ErrInvalidRecipient = errors.New("recipient identity is empty")

	// ErrProposalNotFound is returned when no proposal exists for the id.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrProposalExecuted is returned when the proposal's terminal flag
	// is already set.
	ErrProposalExecuted = errors.New("proposal already executed")

	// ErrAlreadyVoted is returned when an identity votes twice on the
	// same proposal.
	ErrAlreadyVoted = errors.New("identity already voted on this proposal")

	// ErrNotApproved is returned when votes-for is below the majority
	// threshold at execution time.
	ErrNotApproved = errors.New("proposal has not reached majority approval")

	// ErrInsufficientFunds is returned when custody balance is below the
	// requested amount.
	ErrInsufficientFunds = errors.New("insufficient treasury balance")

	// ErrConflict is returned when a state mutation could not commit
	// after repeated compare-and-set attempts.
	ErrConflict = errors.New("state changed concurrently, giving up")
)
