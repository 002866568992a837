package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
)

func TestValidate_Table(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		state   State
		req     Request
		wantErr error
		wantTo  BookingStatus
	}{
		{"sitter accepts", State{Status: StatusRequested, PaymentStatus: PaymentNone},
			Request{Action: ActionAccept, Role: RoleSitter}, nil, StatusConfirmed},
		{"owner cannot accept", State{Status: StatusRequested, PaymentStatus: PaymentNone},
			Request{Action: ActionAccept, Role: RoleOwner}, domain.ErrUnauthorized, ""},
		{"owner cancels requested", State{Status: StatusRequested, PaymentStatus: PaymentNone},
			Request{Action: ActionCancel, Role: RoleOwner}, nil, StatusCancelled},
		{"sitter cancels requested", State{Status: StatusRequested, PaymentStatus: PaymentNone},
			Request{Action: ActionCancel, Role: RoleSitter}, nil, StatusCancelled},
		{"sitter cannot cancel confirmed", State{Status: StatusConfirmed, PaymentStatus: PaymentNone},
			Request{Action: ActionCancel, Role: RoleSitter}, domain.ErrUnauthorized, ""},
		{"pending blocks cancel", State{Status: StatusConfirmed, PaymentStatus: PaymentPending},
			Request{Action: ActionCancel, Role: RoleOwner}, domain.ErrWrongPaymentState, ""},
		{"owner cancels held in progress", State{Status: StatusInProgress, PaymentStatus: PaymentHeld},
			Request{Action: ActionCancel, Role: RoleOwner}, nil, StatusCancelled},
		{"in progress without payment cannot cancel", State{Status: StatusInProgress, PaymentStatus: PaymentNone},
			Request{Action: ActionCancel, Role: RoleOwner}, domain.ErrWrongPaymentState, ""},
		{"start without hold", State{Status: StatusConfirmed, PaymentStatus: PaymentNone},
			Request{Action: ActionStart, Role: RoleSitter}, domain.ErrWrongPaymentState, ""},
		{"start while pending", State{Status: StatusConfirmed, PaymentStatus: PaymentPending},
			Request{Action: ActionStart, Role: RoleSystem}, domain.ErrWrongPaymentState, ""},
		{"start with hold", State{Status: StatusConfirmed, PaymentStatus: PaymentHeld},
			Request{Action: ActionStart, Role: RoleSitter}, nil, StatusInProgress},
		{"owner cancels released", State{Status: StatusCompleted, PaymentStatus: PaymentReleased, CompletionConfirmed: true, EligibleForReleaseAt: &past},
			Request{Action: ActionCancel, Role: RoleOwner}, domain.ErrWrongPaymentState, ""},
		{"sitter cancels refunded", State{Status: StatusCancelled, PaymentStatus: PaymentRefunded},
			Request{Action: ActionCancel, Role: RoleSitter}, domain.ErrInvalidTransition, ""},
		{"complete without hold", State{Status: StatusConfirmed, PaymentStatus: PaymentNone},
			Request{Action: ActionComplete, Role: RoleSitter}, domain.ErrWrongPaymentState, ""},
		{"complete with hold", State{Status: StatusInProgress, PaymentStatus: PaymentHeld},
			Request{Action: ActionComplete, Role: RoleSitter}, nil, StatusCompleted},
		{"complete from requested", State{Status: StatusRequested, PaymentStatus: PaymentNone},
			Request{Action: ActionComplete, Role: RoleSitter}, domain.ErrInvalidTransition, ""},
		{"cancelled is terminal", State{Status: StatusCancelled, PaymentStatus: PaymentNone},
			Request{Action: ActionAccept, Role: RoleSitter}, domain.ErrInvalidTransition, ""},
		{"confirm before complete", State{Status: StatusConfirmed, PaymentStatus: PaymentHeld},
			Request{Action: ActionConfirmCompletion, Role: RoleOwner}, domain.ErrInvalidTransition, ""},
		{"confirm twice", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &future},
			Request{Action: ActionConfirmCompletion, Role: RoleOwner}, domain.ErrInvalidTransition, ""},
		{"release before window", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &future},
			Request{Action: ActionRelease, Role: RoleSitter, Now: now}, domain.ErrNotEligible, ""},
		{"sitter force does not skip window", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &future},
			Request{Action: ActionRelease, Role: RoleSitter, Force: true, Now: now}, domain.ErrNotEligible, ""},
		{"owner force skips window", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &future},
			Request{Action: ActionRelease, Role: RoleOwner, Force: true, Now: now}, nil, StatusCompleted},
		{"release after window", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &past},
			Request{Action: ActionRelease, Role: RoleSystem, Now: now}, nil, StatusCompleted},
		{"release unconfirmed", State{Status: StatusCompleted, PaymentStatus: PaymentHeld},
			Request{Action: ActionRelease, Role: RoleOwner, Force: true, Now: now}, domain.ErrInvalidTransition, ""},
		{"release when released", State{Status: StatusCompleted, PaymentStatus: PaymentReleased, CompletionConfirmed: true, EligibleForReleaseAt: &past},
			Request{Action: ActionRelease, Role: RoleSystem, Now: now}, domain.ErrWrongPaymentState, ""},
		{"disputed blocks system release", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &past, Disputed: true},
			Request{Action: ActionRelease, Role: RoleSystem, Now: now}, domain.ErrNotEligible, ""},
		{"admin releases disputed", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &future, Disputed: true},
			Request{Action: ActionRelease, Role: RoleAdmin, Force: true, Now: now}, nil, StatusCompleted},
		{"cancel completed undisputed", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &past},
			Request{Action: ActionCancel, Role: RoleAdmin}, domain.ErrInvalidTransition, ""},
		{"admin cancels disputed", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &past, Disputed: true},
			Request{Action: ActionCancel, Role: RoleAdmin}, nil, StatusCancelled},
		{"owner cannot cancel completed", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, Disputed: true},
			Request{Action: ActionCancel, Role: RoleOwner}, domain.ErrUnauthorized, ""},
		{"authorize pending again", State{Status: StatusConfirmed, PaymentStatus: PaymentPending},
			Request{Action: ActionAuthorize, Role: RoleOwner}, nil, StatusConfirmed},
		{"authorize requested", State{Status: StatusRequested, PaymentStatus: PaymentNone},
			Request{Action: ActionAuthorize, Role: RoleOwner}, domain.ErrInvalidTransition, ""},
		{"dispute unconfirmed", State{Status: StatusCompleted, PaymentStatus: PaymentHeld},
			Request{Action: ActionDispute, Role: RoleOwner}, domain.ErrInvalidTransition, ""},
		{"dispute twice", State{Status: StatusCompleted, PaymentStatus: PaymentHeld, CompletionConfirmed: true, EligibleForReleaseAt: &past, Disputed: true},
			Request{Action: ActionDispute, Role: RoleOwner}, domain.ErrInvalidTransition, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := Validate(tt.state, tt.req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTo, rule.To)
		})
	}
}

func TestRules_EveryRuleTargetsAValidStatus(t *testing.T) {
	for _, r := range Rules() {
		assert.True(t, r.To.IsValid(), "rule %s", r.Action)
		for _, from := range r.From {
			assert.True(t, from == r.To || from.CanTransitionTo(r.To), "%s: %s -> %s not in status graph", r.Action, from, r.To)
		}
		for _, p := range r.Payment {
			if r.PaymentTo != "" && r.PaymentTo != p {
				assert.True(t, p.CanTransitionTo(r.PaymentTo), "%s: payment %s -> %s not in graph", r.Action, p, r.PaymentTo)
			}
		}
	}
}

func TestActionForStatus(t *testing.T) {
	a, err := ActionForStatus(StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, ActionCancel, a)

	_, err = ActionForStatus(StatusRequested)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
