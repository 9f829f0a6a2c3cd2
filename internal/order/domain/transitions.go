package domain

// Transition resolves the next order status for a normalized lifecycle event.
//
//	pending_payment -> processing -> completed
//	                     \-> failed / cancelled   (completed -> refunded)
//
// Re-applying an event whose target state already holds returns
// ErrAlreadyApplied so callers can treat provider redeliveries as no-ops.
// Anything else off the table returns ErrInvalidTransition.
func Transition(current Status, event EventKind) (Status, error) {
	switch event {
	case EventOrderApproved:
		switch current {
		case StatusPendingPayment:
			return StatusProcessing, nil
		case StatusProcessing, StatusCompleted:
			return current, ErrAlreadyApplied
		}
		return current, ErrInvalidTransition

	case EventPaymentCaptured:
		switch current {
		case StatusPendingPayment, StatusProcessing:
			return StatusCompleted, nil
		case StatusCompleted:
			return current, ErrAlreadyApplied
		}
		return current, ErrInvalidTransition

	case EventPaymentFailed:
		switch current {
		case StatusFailed:
			return current, ErrAlreadyApplied
		case StatusCompleted:
			return current, ErrInvalidTransition
		}
		return StatusFailed, nil

	case EventPaymentCancelled:
		if current == StatusCancelled {
			return current, ErrAlreadyApplied
		}
		return StatusCancelled, nil

	case EventRefundCompleted:
		switch current {
		case StatusCompleted:
			return StatusRefunded, nil
		case StatusRefunded:
			return current, ErrAlreadyApplied
		}
		return current, ErrInvalidTransition
	}

	return current, ErrInvalidTransition
}

// CaptureTriggerNeeded reports whether the event requires an outbound capture
// call (an approved checkout that has not been captured yet).
func CaptureTriggerNeeded(event EventKind, current Status) bool {
	return event == EventOrderApproved && current == StatusPendingPayment
}
