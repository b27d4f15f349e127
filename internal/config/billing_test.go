package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBillingPolicy(t *testing.T) {
	policy := DefaultBillingPolicy()
	assert.Equal(t, 15, policy.NewObjectCutoffDay)
	assert.Equal(t, 120, policy.RunLockTTLSeconds)
	assert.NoError(t, validateBillingPolicy(policy))
}

func TestValidateBillingPolicy(t *testing.T) {
	assert.Error(t, validateBillingPolicy(BillingPolicy{NewObjectCutoffDay: 0, RunLockTTLSeconds: 60}))
	assert.Error(t, validateBillingPolicy(BillingPolicy{NewObjectCutoffDay: 29, RunLockTTLSeconds: 60}))
	assert.Error(t, validateBillingPolicy(BillingPolicy{NewObjectCutoffDay: 10, RunLockTTLSeconds: 0}))
	assert.NoError(t, validateBillingPolicy(BillingPolicy{NewObjectCutoffDay: 28, RunLockTTLSeconds: 1}))
}

func TestHolderFallsBackToDefaults(t *testing.T) {
	var holder *BillingPolicyHolder
	assert.Equal(t, DefaultBillingPolicy(), holder.Current())
}
