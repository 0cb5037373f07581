package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hangarshare/backend-hangar/internal/pricing"
)

// State is the lifecycle state of a payment intent.
type State string

const (
	StateDraft                State = "DRAFT"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateConfirmed            State = "CONFIRMED"
	StateSettled              State = "SETTLED"
	StateFailed               State = "FAILED"
	StateCanceled             State = "CANCELED"
)

// SubjectKind identifies what an intent pays for.
type SubjectKind string

const (
	SubjectRental  SubjectKind = "RENTAL"
	SubjectListing SubjectKind = "LISTING"
)

// ErrInvalidTransition is returned when a lifecycle move is not allowed from
// the current state.
var ErrInvalidTransition = errors.New("payment: invalid state transition")

// transitions enumerates the allowed moves. Failed is reachable from
// AwaitingConfirmation and Confirmed; Canceled only before confirmation.
// Draft -> Settled is the zero-amount shortcut that bypasses the gateway.
var transitions = map[State][]State{
	StateDraft:                {StateAwaitingConfirmation, StateCanceled, StateSettled},
	StateAwaitingConfirmation: {StateConfirmed, StateFailed, StateCanceled},
	StateConfirmed:            {StateSettled, StateFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Intent is a single payment transaction owned by the initiating session and
// referenced (not owned) by the rental or listing record it pays for. Its
// identity towards the gateway is ChargeRef once one has been issued.
type Intent struct {
	ID           uuid.UUID
	State        State
	SubjectKind  SubjectKind
	SubjectID    uuid.UUID
	OwnerID      uuid.UUID
	PayerID      uuid.UUID
	Quote        pricing.Quote
	ChargeRef    string
	ClientSecret string
	FailureCode  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIntent builds a draft intent for the given quote. No external resource
// exists until Create is called on the service.
func NewIntent(kind SubjectKind, subjectID, ownerID, payerID uuid.UUID, quote pricing.Quote) Intent {
	return Intent{
		ID:          uuid.New(),
		State:       StateDraft,
		SubjectKind: kind,
		SubjectID:   subjectID,
		OwnerID:     ownerID,
		PayerID:     payerID,
		Quote:       quote,
	}
}

// transition mutates the state after checking legality.
func (i *Intent) transition(next State) error {
	if !i.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.State, next)
	}
	i.State = next
	return nil
}
