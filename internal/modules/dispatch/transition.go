// README: Transition table for the dispatch lifecycle and the custody gate.
package dispatch

// AllowedTransitions is the single source of truth for the dispatch state
// flow. Terminal states have no entry.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAssigned, StatusVoided},
	StatusAssigned:  {StatusPreparing, StatusVoided},
	StatusPreparing: {StatusPrepared, StatusVoided},
	StatusPrepared:  {StatusInTransit, StatusVoided},
	StatusInTransit: {StatusDelivered, StatusFailed},
}

// previousStep backs the correction workflow: the only state a correction
// may walk back to.
var previousStep = map[Status]Status{
	StatusAssigned:  StatusPending,
	StatusPreparing: StatusAssigned,
	StatusPrepared:  StatusPreparing,
	StatusInTransit: StatusPrepared,
	StatusDelivered: StatusInTransit,
	StatusFailed:    StatusInTransit,
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition decides whether current -> requested is legal for a
// dispatch of the given type and custody flags. It has no side effects.
func ValidateTransition(current, requested Status, typ Type, hasRetainedPrescription, returnedToPharmacy bool) error {
	if !CanTransition(current, requested) {
		return &TransitionError{From: current, To: requested, Reason: ReasonNotPermitted}
	}
	if typ == TypePrescriptionResend && requested == StatusPrepared &&
		!(hasRetainedPrescription && returnedToPharmacy) {
		return &TransitionError{From: current, To: requested, Reason: ReasonPrescriptionNotReturned}
	}
	return nil
}

// PreviousStep returns the one-step-back state used by corrections.
func PreviousStep(s Status) (Status, bool) {
	prev, ok := previousStep[s]
	return prev, ok
}

// InPreparation is the window in which prescription custody may change.
func InPreparation(s Status) bool {
	return s == StatusPreparing || s == StatusPrepared || s == statusInProcess
}
