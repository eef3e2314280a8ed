package domain

// NonTerminalAttemptStatuses lists every status from which an attempt can still move.
var NonTerminalAttemptStatuses = []string{AttemptInitiated, AttemptProcessing, AttemptPending}

// PollableAttemptStatuses are the statuses the reconciler asks the gateway about.
var PollableAttemptStatuses = []string{AttemptProcessing, AttemptPending}

func IsTerminalAttempt(status string) bool {
	switch status {
	case AttemptSuccess, AttemptFailed, AttemptDisputed:
		return true
	}
	return false
}

func IsKnownAttemptStatus(status string) bool {
	switch status {
	case AttemptInitiated, AttemptProcessing, AttemptPending,
		AttemptSuccess, AttemptFailed, AttemptDisputed:
		return true
	}
	return false
}

var attemptTransitions = map[string][]string{
	AttemptInitiated:  {AttemptProcessing, AttemptFailed, AttemptDisputed},
	AttemptProcessing: {AttemptSuccess, AttemptFailed, AttemptPending, AttemptDisputed},
	AttemptPending:    {AttemptSuccess, AttemptFailed, AttemptDisputed},
}

// CanTransition reports whether an attempt may move from one status to another
// for the given trigger source. A DISPUTED attempt can only be finalized by an
// admin resolving its dispute, and only an admin approving a dispute may turn
// a FAILED attempt into SUCCESS.
func CanTransition(from, to, source string) bool {
	switch from {
	case AttemptDisputed:
		return source == TriggerAdminManual && (to == AttemptSuccess || to == AttemptFailed)
	case AttemptFailed:
		return source == TriggerAdminManual && to == AttemptSuccess
	}
	for _, next := range attemptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsKnownTrigger(source string) bool {
	switch source {
	case TriggerStudentPortal, TriggerBackgroundJob, TriggerAdminManual, TriggerGatewayWebhook:
		return true
	}
	return false
}

func IsFinalDispute(status string) bool {
	return status == DisputeResolved || status == DisputeRejected
}

// NormalizeDisputeAction maps the accepted spellings of a resolution action
// onto DisputeActionApprove / DisputeActionReject. ok is false for anything else.
func NormalizeDisputeAction(action string) (string, bool) {
	switch action {
	case "APPROVE", "APPROVED":
		return DisputeActionApprove, true
	case "REJECT", "REJECTED":
		return DisputeActionReject, true
	}
	return "", false
}
