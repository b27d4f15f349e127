package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy carries operator-tunable billing rules.
type BillingPolicy struct {
	// Objects whose first tariff assignment lands after this day of the
	// month are not charged for that month.
	NewObjectCutoffDay int `mapstructure:"newObjectCutoffDay"`
	// TTL of the distributed generation run lock, in seconds.
	RunLockTTLSeconds int `mapstructure:"runLockTtlSeconds"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		NewObjectCutoffDay: 15,
		RunLockTTLSeconds:  120,
	}
}

// BillingPolicyHolder exposes the current policy and hot-reloads it when the
// backing file changes.
type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fleetbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEETBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.newObjectCutoffDay", defaults.NewObjectCutoffDay)
	v.SetDefault("billing.runLockTtlSeconds", defaults.RunLockTTLSeconds)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

// Current returns the policy in effect.
func (h *BillingPolicyHolder) Current() BillingPolicy {
	if h == nil {
		return DefaultBillingPolicy()
	}
	if policy, ok := h.current.Load().(BillingPolicy); ok {
		return policy
	}
	return DefaultBillingPolicy()
}

func validateBillingPolicy(p BillingPolicy) error {
	if p.NewObjectCutoffDay < 1 || p.NewObjectCutoffDay > 28 {
		return errors.New("newObjectCutoffDay must be within [1,28]")
	}
	if p.RunLockTTLSeconds <= 0 {
		return errors.New("runLockTtlSeconds must be positive")
	}
	return nil
}
