package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{ReferralStatusPending, ReferralStatusConfirmed, true},
		{ReferralStatusConfirmed, ReferralStatusCancelled, true},
		{ReferralStatusPending, ReferralStatusCancelled, false},
		{ReferralStatusConfirmed, ReferralStatusPending, false},
		{ReferralStatusCancelled, ReferralStatusConfirmed, false}, // cancelled 是终态
		{ReferralStatusCancelled, ReferralStatusPending, false},
		{ReferralStatusConfirmed, ReferralStatusConfirmed, false},
		{"unknown", ReferralStatusConfirmed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCashbackIsResolved(t *testing.T) {
	assert.False(t, (&CashbackRequest{Status: CashbackStatusPending}).IsResolved())
	assert.True(t, (&CashbackRequest{Status: CashbackStatusApproved}).IsResolved())
	assert.True(t, (&CashbackRequest{Status: CashbackStatusRejected}).IsResolved())
}
