package booking

import (
	"fmt"
	"time"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

// Role is the part an actor plays relative to a booking.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleSitter Role = "sitter"
	RoleSystem Role = "system"
	RoleAdmin  Role = "admin"
)

// Action is a requested change to a booking.
type Action string

const (
	ActionAccept            Action = "accept"
	ActionCancel            Action = "cancel"
	ActionStart             Action = "start"
	ActionComplete          Action = "complete"
	ActionConfirmCompletion Action = "confirm_completion"
	ActionAuthorize         Action = "authorize"
	ActionRelease           Action = "release"
	ActionDispute           Action = "dispute"
)

// State is the subset of a booking the validator decides on.
type State struct {
	Status               BookingStatus
	PaymentStatus        PaymentStatus
	CompletionConfirmed  bool
	EligibleForReleaseAt *time.Time
	Disputed             bool
}

// Request describes who asks for what.
type Request struct {
	Action Action
	Role   Role
	Force  bool
	Now    time.Time
}

// Rule is one row of the transition table.
type Rule struct {
	Action Action
	From   []BookingStatus
	To     BookingStatus
	Roles  []Role
	// Payment lists the payment states the rule accepts.
	Payment []PaymentStatus
	// PaymentTo is the payment state after the rule applies; empty keeps it.
	PaymentTo PaymentStatus
	// RequiresRefund marks cancellations that must refund before committing.
	RequiresRefund bool
	// RequiresDispute restricts the rule to disputed bookings.
	RequiresDispute bool
}

// transitionTable is the single source of legal transitions. Rules for the
// same action are tried in order; the first whose From and Payment match wins.
var transitionTable = []Rule{
	{Action: ActionAccept, From: []BookingStatus{StatusRequested}, To: StatusConfirmed,
		Roles: []Role{RoleSitter}, Payment: []PaymentStatus{PaymentNone}},

	{Action: ActionCancel, From: []BookingStatus{StatusRequested}, To: StatusCancelled,
		Roles: []Role{RoleOwner, RoleSitter}, Payment: []PaymentStatus{PaymentNone}},
	{Action: ActionCancel, From: []BookingStatus{StatusConfirmed}, To: StatusCancelled,
		Roles: []Role{RoleOwner}, Payment: []PaymentStatus{PaymentNone}},
	{Action: ActionCancel, From: []BookingStatus{StatusConfirmed, StatusInProgress}, To: StatusCancelled,
		Roles: []Role{RoleOwner}, Payment: []PaymentStatus{PaymentHeld}, PaymentTo: PaymentRefunded,
		RequiresRefund: true},
	{Action: ActionCancel, From: []BookingStatus{StatusCompleted}, To: StatusCancelled,
		Roles: []Role{RoleAdmin}, Payment: []PaymentStatus{PaymentHeld}, PaymentTo: PaymentRefunded,
		RequiresRefund: true, RequiresDispute: true},

	// service starts only once the owner's payment is in escrow
	{Action: ActionStart, From: []BookingStatus{StatusConfirmed}, To: StatusInProgress,
		Roles: []Role{RoleSitter, RoleSystem}, Payment: []PaymentStatus{PaymentHeld}},

	{Action: ActionComplete, From: []BookingStatus{StatusConfirmed, StatusInProgress}, To: StatusCompleted,
		Roles: []Role{RoleSitter}, Payment: []PaymentStatus{PaymentHeld}},

	{Action: ActionConfirmCompletion, From: []BookingStatus{StatusCompleted}, To: StatusCompleted,
		Roles: []Role{RoleOwner, RoleSystem}, Payment: []PaymentStatus{PaymentHeld}},

	{Action: ActionAuthorize, From: []BookingStatus{StatusConfirmed}, To: StatusConfirmed,
		Roles: []Role{RoleOwner}, Payment: []PaymentStatus{PaymentNone, PaymentPending}, PaymentTo: PaymentPending},

	{Action: ActionRelease, From: []BookingStatus{StatusCompleted}, To: StatusCompleted,
		Roles: []Role{RoleOwner, RoleSitter, RoleSystem, RoleAdmin}, Payment: []PaymentStatus{PaymentHeld},
		PaymentTo: PaymentReleased},

	{Action: ActionDispute, From: []BookingStatus{StatusCompleted}, To: StatusCompleted,
		Roles: []Role{RoleOwner}, Payment: []PaymentStatus{PaymentHeld}},
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	out := make([]Rule, len(transitionTable))
	copy(out, transitionTable)
	return out
}

// Validate decides whether req is legal from state and returns the matching rule.
// Errors are InvalidTransition (status not reachable), Unauthorized (role),
// WrongPaymentState (payment axis) or NotEligibleForRelease (hold window).
// The payment axis is checked before the role, so a party is told the
// booking's payment state rather than that some other role could act.
func Validate(state State, req Request) (Rule, error) {
	if state.Status.IsTerminal() {
		return Rule{}, domain.NewInvalidStateError(string(state.Status), targetOf(req.Action))
	}

	var statusMatched []Rule
	for _, r := range transitionTable {
		if r.Action == req.Action && containsStatus(r.From, state.Status) {
			statusMatched = append(statusMatched, r)
		}
	}
	if len(statusMatched) == 0 {
		return Rule{}, domain.NewInvalidStateError(string(state.Status), targetOf(req.Action))
	}

	var paymentMatched []Rule
	listed := req.Role == RoleOwner || req.Role == RoleSitter
	for _, r := range statusMatched {
		listed = listed || containsRole(r.Roles, req.Role)
		if containsPayment(r.Payment, state.PaymentStatus) && (!r.RequiresDispute || state.Disputed) {
			paymentMatched = append(paymentMatched, r)
		}
	}
	if len(paymentMatched) == 0 {
		// parties learn what is wrong with the booking; others only that
		// they may not act on it
		switch {
		case !listed:
			return Rule{}, domain.NewUnauthorizedError(
				fmt.Sprintf("%s may not %s a %s booking", req.Role, req.Action, state.Status))
		case state.PaymentStatus.IsSettled():
			return Rule{}, domain.NewWrongPaymentStateError(string(req.Action), string(state.PaymentStatus))
		case req.Action == ActionCancel && state.Status == StatusCompleted && !state.Disputed:
			return Rule{}, domain.NewInvalidStateError(string(state.Status), string(StatusCancelled))
		}
		return Rule{}, domain.NewWrongPaymentStateError(string(req.Action), string(state.PaymentStatus))
	}

	var rule Rule
	found := false
	for _, r := range paymentMatched {
		if containsRole(r.Roles, req.Role) {
			rule, found = r, true
			break
		}
	}
	if !found {
		return Rule{}, domain.NewUnauthorizedError(
			fmt.Sprintf("%s may not %s a %s booking", req.Role, req.Action, state.Status))
	}

	if err := checkGuards(state, req); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func checkGuards(state State, req Request) error {
	switch req.Action {
	case ActionConfirmCompletion:
		if state.CompletionConfirmed {
			return domain.NewInvalidStateError("completed (confirmed)", "completed (confirmed)")
		}
	case ActionDispute:
		if !state.CompletionConfirmed {
			return domain.NewInvalidStateError("completed (unconfirmed)", "completed (disputed)")
		}
		if state.Disputed {
			return domain.NewInvalidStateError("completed (disputed)", "completed (disputed)")
		}
	case ActionRelease:
		if !state.CompletionConfirmed || state.EligibleForReleaseAt == nil {
			return domain.NewInvalidStateError("completed (unconfirmed)", "released")
		}
		if state.Disputed && req.Role != RoleAdmin {
			return domain.NewNotEligibleError("booking is under dispute")
		}
		forced := req.Force && (req.Role == RoleOwner || req.Role == RoleAdmin)
		if !forced && req.Now.Before(*state.EligibleForReleaseAt) {
			return domain.NewNotEligibleError(
				fmt.Sprintf("hold window ends at %s", state.EligibleForReleaseAt.UTC().Format(time.RFC3339)))
		}
	}
	return nil
}

func targetOf(a Action) string {
	switch a {
	case ActionAccept:
		return string(StatusConfirmed)
	case ActionCancel:
		return string(StatusCancelled)
	case ActionStart:
		return string(StatusInProgress)
	case ActionComplete, ActionConfirmCompletion, ActionDispute:
		return string(StatusCompleted)
	case ActionAuthorize:
		return string(PaymentHeld)
	case ActionRelease:
		return string(PaymentReleased)
	}
	return string(a)
}

// ActionForStatus maps a requested target status to the action that reaches it.
func ActionForStatus(target BookingStatus) (Action, error) {
	switch target {
	case StatusConfirmed:
		return ActionAccept, nil
	case StatusInProgress:
		return ActionStart, nil
	case StatusCompleted:
		return ActionComplete, nil
	case StatusCancelled:
		return ActionCancel, nil
	}
	return "", domain.NewValidationError(fmt.Sprintf("status %q cannot be requested", target))
}

func containsStatus(list []BookingStatus, s BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRole(list []Role, r Role) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

func containsPayment(list []PaymentStatus, p PaymentStatus) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
