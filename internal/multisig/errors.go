package multisig

import "errors"

// Kind classifies ledger failures so callers can react without matching on
// individual sentinels.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers construction-time failures.
	KindConfiguration
	// KindAuthorization means the caller is not a registered owner.
	KindAuthorization
	// KindReference means the proposal id does not exist.
	KindReference
	// KindStateConflict covers double approval, revoke without approval,
	// mutations of executed proposals, reentrant calls and lost races
	// against another writer.
	KindStateConflict
	// KindValidation covers malformed proposal or deposit input.
	KindValidation
	// KindResource means quorum or funds are missing at execution time.
	KindResource
	// KindInteraction means the outward transfer was rejected.
	KindInteraction
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthorization:
		return "authorization"
	case KindReference:
		return "reference"
	case KindStateConflict:
		return "state_conflict"
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindInteraction:
		return "interaction"
	default:
		return "unknown"
	}
}

// Error is a typed ledger failure. Sentinel values below are compared with
// errors.Is; detail is added by wrapping them.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

var (
	// ErrInvalidOwnerArray is returned when a wallet is constructed without owners.
	ErrInvalidOwnerArray = &Error{Kind: KindConfiguration, Code: "InvalidOwnerArray", msg: "owner list is empty"}
	// ErrInvalidThreshold is returned when the threshold is zero or exceeds the owner count.
	ErrInvalidThreshold = &Error{Kind: KindConfiguration, Code: "InvalidThreshold", msg: "invalid threshold"}

	// ErrNotOwner is returned when a restricted operation is invoked by a non-owner.
	ErrNotOwner = &Error{Kind: KindAuthorization, Code: "NotOwner", msg: "caller is not an owner"}

	// ErrInvalidID is returned for proposal ids that were never allocated.
	ErrInvalidID = &Error{Kind: KindReference, Code: "InvalidId", msg: "proposal does not exist"}

	// ErrProposalAlreadyExecuted is returned for any mutation of an executed proposal.
	ErrProposalAlreadyExecuted = &Error{Kind: KindStateConflict, Code: "ProposalAlreadyExecuted", msg: "proposal already executed"}
	// ErrAlreadyApproved is returned when an owner approves the same proposal twice.
	ErrAlreadyApproved = &Error{Kind: KindStateConflict, Code: "AlreadyApproved", msg: "proposal already approved by caller"}
	// ErrNotApproved is returned when an owner revokes an approval it never gave.
	ErrNotApproved = &Error{Kind: KindStateConflict, Code: "NotAlreadyApproved", msg: "proposal not approved by caller"}
	// ErrReentrantCall is returned when the outward transfer calls back into the wallet.
	// It is also returned to any caller arriving while an outward transfer is
	// in flight, since a callback on a fresh context cannot be told apart.
	ErrReentrantCall = &Error{Kind: KindStateConflict, Code: "ReentrantCall", msg: "reentrant call rejected"}
	// ErrConcurrentUpdate is returned when another writer committed to the
	// wallet between this call's read and its commit.
	ErrConcurrentUpdate = &Error{Kind: KindStateConflict, Code: "ConcurrentUpdate", msg: "wallet changed concurrently"}

	// ErrInvalidAddress is returned for null recipients and null or duplicate owners.
	ErrInvalidAddress = &Error{Kind: KindValidation, Code: "InvalidAddress", msg: "invalid address"}
	// ErrInvalidAmount is returned for non-positive proposal amounts, negative
	// deposits and deposits that would overflow the balance.
	ErrInvalidAmount = &Error{Kind: KindValidation, Code: "InvalidAmount", msg: "invalid amount"}
	// ErrInvalidDescription is returned for empty proposal descriptions.
	ErrInvalidDescription = &Error{Kind: KindValidation, Code: "InvalidDescription", msg: "invalid description"}

	// ErrInsufficientApproval is returned when a proposal lacks quorum at execution time.
	ErrInsufficientApproval = &Error{Kind: KindResource, Code: "InsufficientApproval", msg: "insufficient approvals"}
	// ErrInsufficientBalance is returned when the wallet cannot cover the proposal amount.
	ErrInsufficientBalance = &Error{Kind: KindResource, Code: "InsufficientBalanceInContract", msg: "insufficient wallet balance"}

	// ErrTransactionFailed wraps a rejected outward transfer.
	ErrTransactionFailed = &Error{Kind: KindInteraction, Code: "TransactionFailed", msg: "transfer to recipient failed"}
)

// KindOf reports the kind of the first *Error found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of the first *Error found in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
