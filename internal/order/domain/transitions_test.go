package domain

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		event   EventKind
		want    Status
		wantErr error
	}{
		{"approve pending", StatusPendingPayment, EventOrderApproved, StatusProcessing, nil},
		{"approve twice", StatusProcessing, EventOrderApproved, StatusProcessing, ErrAlreadyApplied},
		{"approve after capture", StatusCompleted, EventOrderApproved, StatusCompleted, ErrAlreadyApplied},
		{"approve failed order", StatusFailed, EventOrderApproved, StatusFailed, ErrInvalidTransition},

		{"capture pending", StatusPendingPayment, EventPaymentCaptured, StatusCompleted, nil},
		{"capture processing", StatusProcessing, EventPaymentCaptured, StatusCompleted, nil},
		{"capture twice", StatusCompleted, EventPaymentCaptured, StatusCompleted, ErrAlreadyApplied},
		{"capture refunded order", StatusRefunded, EventPaymentCaptured, StatusRefunded, ErrInvalidTransition},

		{"fail pending", StatusPendingPayment, EventPaymentFailed, StatusFailed, nil},
		{"fail processing", StatusProcessing, EventPaymentFailed, StatusFailed, nil},
		{"fail twice", StatusFailed, EventPaymentFailed, StatusFailed, ErrAlreadyApplied},
		{"fail completed order", StatusCompleted, EventPaymentFailed, StatusCompleted, ErrInvalidTransition},

		{"cancel pending", StatusPendingPayment, EventPaymentCancelled, StatusCancelled, nil},
		{"cancel completed", StatusCompleted, EventPaymentCancelled, StatusCancelled, nil},
		{"cancel twice", StatusCancelled, EventPaymentCancelled, StatusCancelled, ErrAlreadyApplied},

		{"refund completed", StatusCompleted, EventRefundCompleted, StatusRefunded, nil},
		{"refund twice", StatusRefunded, EventRefundCompleted, StatusRefunded, ErrAlreadyApplied},
		{"refund pending order", StatusPendingPayment, EventRefundCompleted, StatusPendingPayment, ErrInvalidTransition},

		{"unknown event", StatusPendingPayment, EventKind("bogus"), StatusPendingPayment, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.current, tt.event)
			if got != tt.want {
				t.Fatalf("expected status %q, got %q", tt.want, got)
			}
			if !errors.Is(err, tt.wantErr) && err != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCaptureTriggerNeeded(t *testing.T) {
	if !CaptureTriggerNeeded(EventOrderApproved, StatusPendingPayment) {
		t.Fatal("expected capture trigger for approved pending order")
	}
	if CaptureTriggerNeeded(EventOrderApproved, StatusProcessing) {
		t.Fatal("expected no capture trigger on redelivery")
	}
	if CaptureTriggerNeeded(EventPaymentCaptured, StatusPendingPayment) {
		t.Fatal("expected no capture trigger for capture event")
	}
}
