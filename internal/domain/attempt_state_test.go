package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		to     string
		source string
		want   bool
	}{
		{"gateway accepted session", AttemptInitiated, AttemptProcessing, TriggerStudentPortal, true},
		{"gateway call failed", AttemptInitiated, AttemptFailed, TriggerStudentPortal, true},
		{"initiated cannot jump to success", AttemptInitiated, AttemptSuccess, TriggerBackgroundJob, false},
		{"processing confirmed paid", AttemptProcessing, AttemptSuccess, TriggerBackgroundJob, true},
		{"processing still pending", AttemptProcessing, AttemptPending, TriggerBackgroundJob, true},
		{"pending resolves failed", AttemptPending, AttemptFailed, TriggerBackgroundJob, true},
		{"pending cannot go back to processing", AttemptPending, AttemptProcessing, TriggerBackgroundJob, false},
		{"escalation from pending", AttemptPending, AttemptDisputed, TriggerBackgroundJob, true},
		{"success is terminal", AttemptSuccess, AttemptFailed, TriggerAdminManual, false},
		{"failed is terminal", AttemptFailed, AttemptSuccess, TriggerBackgroundJob, false},
		{"failed not revived by webhook", AttemptFailed, AttemptSuccess, TriggerGatewayWebhook, false},
		{"failed approved by admin", AttemptFailed, AttemptSuccess, TriggerAdminManual, true},
		{"failed cannot be disputed", AttemptFailed, AttemptDisputed, TriggerAdminManual, false},
		{"disputed finalized by admin", AttemptDisputed, AttemptSuccess, TriggerAdminManual, true},
		{"disputed rejected by admin", AttemptDisputed, AttemptFailed, TriggerAdminManual, true},
		{"disputed not touched by job", AttemptDisputed, AttemptSuccess, TriggerBackgroundJob, false},
		{"disputed cannot be re-disputed", AttemptDisputed, AttemptDisputed, TriggerAdminManual, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.source))
		})
	}
}

func TestIsTerminalAttempt(t *testing.T) {
	for _, s := range NonTerminalAttemptStatuses {
		assert.False(t, IsTerminalAttempt(s), s)
	}
	for _, s := range []string{AttemptSuccess, AttemptFailed, AttemptDisputed} {
		assert.True(t, IsTerminalAttempt(s), s)
	}
}

func TestNormalizeDisputeAction(t *testing.T) {
	a, ok := NormalizeDisputeAction("APPROVE")
	assert.True(t, ok)
	assert.Equal(t, DisputeActionApprove, a)

	a, ok = NormalizeDisputeAction("REJECT")
	assert.True(t, ok)
	assert.Equal(t, DisputeActionReject, a)

	_, ok = NormalizeDisputeAction("MAYBE")
	assert.False(t, ok)
}
