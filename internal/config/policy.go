package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PolicyConfig is the business policy surface consumed by the engine.
// It is owned by operations and hot-reloaded from policy.yml.
type PolicyConfig struct {
	ReservationTTL  time.Duration            `mapstructure:"reservationTTL"`
	AutoCancelAfter time.Duration            `mapstructure:"autoCancelAfter"`
	DeliveryGrace   time.Duration            `mapstructure:"deliveryGrace"`
	Commission      []CommissionTier         `mapstructure:"commission"`
	ProviderFees    map[string]ProviderFee   `mapstructure:"providerFees"`
	RateLimits      map[string]RateLimitRule `mapstructure:"rateLimits"`
	Retention       RetentionPolicy          `mapstructure:"retention"`
}

// CommissionTier applies BasisPoints once gross raised reaches MinGross.
type CommissionTier struct {
	MinGross    int64 `mapstructure:"minGross"`
	BasisPoints int64 `mapstructure:"basisPoints"`
}

// ProviderFee is charged per paid transaction when the provider does not report one.
type ProviderFee struct {
	Fixed       int64 `mapstructure:"fixed"`
	BasisPoints int64 `mapstructure:"basisPoints"`
}

type RateLimitRule struct {
	Window   time.Duration `mapstructure:"window"`
	MaxCount int           `mapstructure:"maxCount"`
}

type RetentionPolicy struct {
	RateLimitAttempts time.Duration `mapstructure:"rateLimitAttempts"`
	AuditLogs         time.Duration `mapstructure:"auditLogs"`
}

const (
	RateLimitActionSignup        = "signup"
	RateLimitActionLogin         = "login"
	RateLimitActionRaffleCreate  = "raffle.create"
	RateLimitActionTicketReserve = "ticket.reserve"
)

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		ReservationTTL:  15 * time.Minute,
		AutoCancelAfter: 30 * 24 * time.Hour,
		DeliveryGrace:   7 * 24 * time.Hour,
		Commission: []CommissionTier{
			{MinGross: 0, BasisPoints: 500},
			{MinGross: 5_000_000, BasisPoints: 400},
			{MinGross: 50_000_000, BasisPoints: 300},
		},
		ProviderFees: map[string]ProviderFee{
			"stripe": {Fixed: 30, BasisPoints: 290},
		},
		RateLimits: map[string]RateLimitRule{
			RateLimitActionSignup:        {Window: time.Hour, MaxCount: 5},
			RateLimitActionLogin:         {Window: 15 * time.Minute, MaxCount: 10},
			RateLimitActionRaffleCreate:  {Window: 24 * time.Hour, MaxCount: 3},
			RateLimitActionTicketReserve: {Window: time.Minute, MaxCount: 20},
		},
		Retention: RetentionPolicy{
			RateLimitAttempts: 7 * 24 * time.Hour,
			AuditLogs:         365 * 24 * time.Hour,
		},
	}
}

// CommissionBasisPoints returns the rate of the highest tier reached by gross.
func (p PolicyConfig) CommissionBasisPoints(gross int64) int64 {
	tiers := append([]CommissionTier(nil), p.Commission...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinGross < tiers[j].MinGross })
	var bps int64
	for _, tier := range tiers {
		if gross >= tier.MinGross {
			bps = tier.BasisPoints
		}
	}
	return bps
}

// ProviderFeeFor computes the policy fee for one transaction amount.
func (p PolicyConfig) ProviderFeeFor(provider string, amount int64) int64 {
	fee, ok := p.ProviderFees[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return 0
	}
	return fee.Fixed + (amount*fee.BasisPoints+5000)/10000
}

func (p PolicyConfig) RateLimit(action string) (RateLimitRule, bool) {
	rule, ok := p.RateLimits[action]
	if !ok || rule.Window <= 0 || rule.MaxCount <= 0 {
		return RateLimitRule{}, false
	}
	return rule, true
}

func (p PolicyConfig) withDefaults() PolicyConfig {
	defaults := DefaultPolicyConfig()
	if p.ReservationTTL <= 0 {
		p.ReservationTTL = defaults.ReservationTTL
	}
	if p.AutoCancelAfter <= 0 {
		p.AutoCancelAfter = defaults.AutoCancelAfter
	}
	if p.DeliveryGrace <= 0 {
		p.DeliveryGrace = defaults.DeliveryGrace
	}
	if len(p.Commission) == 0 {
		p.Commission = defaults.Commission
	}
	if p.ProviderFees == nil {
		p.ProviderFees = defaults.ProviderFees
	}
	if p.RateLimits == nil {
		p.RateLimits = defaults.RateLimits
	}
	if p.Retention.RateLimitAttempts <= 0 {
		p.Retention.RateLimitAttempts = defaults.Retention.RateLimitAttempts
	}
	if p.Retention.AuditLogs <= 0 {
		p.Retention.AuditLogs = defaults.Retention.AuditLogs
	}
	return p
}

func validatePolicyConfig(p PolicyConfig) error {
	for _, tier := range p.Commission {
		if tier.MinGross < 0 {
			return errors.New("policy.commission.minGross cannot be negative")
		}
		if tier.BasisPoints < 0 || tier.BasisPoints > 10000 {
			return fmt.Errorf("policy.commission.basisPoints out of range: %d", tier.BasisPoints)
		}
	}
	for name, fee := range p.ProviderFees {
		if fee.Fixed < 0 || fee.BasisPoints < 0 {
			return fmt.Errorf("policy.providerFees.%s cannot be negative", name)
		}
	}
	return nil
}

// PolicyHolder serves the latest valid PolicyConfig.
type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

// NewStaticPolicyHolder pins a fixed policy, used by tests and one-shot tools.
func NewStaticPolicyHolder(p PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p.withDefaults())
	return holder
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/drawline/config")
	v.AddConfigPath("/etc/drawline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DRAWLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("policy file not found, using defaults")
		return NewStaticPolicyHolder(DefaultPolicyConfig()), nil
	}

	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PolicyConfig
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		updated = updated.withDefaults()
		if err := validatePolicyConfig(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}
