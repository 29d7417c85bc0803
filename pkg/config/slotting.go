package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MaxCandidateLimit caps how many ranked positions the preview API returns.
const MaxCandidateLimit = 50

// SlottingConfig tunes the planner and its triggers.
type SlottingConfig struct {
	// ReplanInterval drives the periodic re-plan of every tenant. Zero disables it.
	ReplanInterval          time.Duration `mapstructure:"replan_interval"`
	ReplanOnInventoryEvents bool          `mapstructure:"replan_on_inventory_events"`
	CandidateLimit          int           `mapstructure:"candidate_limit"`
	RunTimeout              time.Duration `mapstructure:"run_timeout"`
	Weights                 WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig holds the point value of every scoring criterion.
type WeightsConfig struct {
	FastFront          float64 `mapstructure:"fast_front"`
	GoldenZoneBonus    float64 `mapstructure:"golden_zone_bonus"`
	MediumMiddle       float64 `mapstructure:"medium_middle"`
	SlowBack           float64 `mapstructure:"slow_back"`
	WeightLight        float64 `mapstructure:"weight_light"`
	WeightMedium       float64 `mapstructure:"weight_medium"`
	WeightHeavy        float64 `mapstructure:"weight_heavy"`
	OverweightPenalty  float64 `mapstructure:"overweight_penalty"`
	ExpiryCritical     float64 `mapstructure:"expiry_critical"`
	ExpirySoon         float64 `mapstructure:"expiry_soon"`
	ExpiryDefault      float64 `mapstructure:"expiry_default"`
	ClassA             float64 `mapstructure:"class_a"`
	ClassB             float64 `mapstructure:"class_b"`
	ClassC             float64 `mapstructure:"class_c"`
	ControlledSecurity float64 `mapstructure:"controlled_security"`
	FragileNoStacking  float64 `mapstructure:"fragile_no_stacking"`
}

// Validate checks the slotting section.
func (c *SlottingConfig) Validate() error {
	if c.ReplanInterval < 0 {
		return fmt.Errorf("slotting.replan_interval must be >= 0, got %s", c.ReplanInterval)
	}
	if c.CandidateLimit < 1 || c.CandidateLimit > MaxCandidateLimit {
		return fmt.Errorf("slotting.candidate_limit must be in [1,%d], got %d", MaxCandidateLimit, c.CandidateLimit)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("slotting.run_timeout must be > 0, got %s", c.RunTimeout)
	}
	if c.Weights.OverweightPenalty >= 0 {
		return fmt.Errorf("slotting.weights.overweight_penalty must be negative, got %v", c.Weights.OverweightPenalty)
	}
	return nil
}

func setSlottingDefaults(v *viper.Viper) {
	v.SetDefault("slotting.replan_interval", 24*time.Hour)
	v.SetDefault("slotting.replan_on_inventory_events", true)
	v.SetDefault("slotting.candidate_limit", 5)
	v.SetDefault("slotting.run_timeout", 30*time.Second)

	v.SetDefault("slotting.weights.fast_front", 40)
	v.SetDefault("slotting.weights.golden_zone_bonus", 20)
	v.SetDefault("slotting.weights.medium_middle", 30)
	v.SetDefault("slotting.weights.slow_back", 30)
	v.SetDefault("slotting.weights.weight_light", 20)
	v.SetDefault("slotting.weights.weight_medium", 15)
	v.SetDefault("slotting.weights.weight_heavy", 10)
	v.SetDefault("slotting.weights.overweight_penalty", -50)
	v.SetDefault("slotting.weights.expiry_critical", 20)
	v.SetDefault("slotting.weights.expiry_soon", 15)
	v.SetDefault("slotting.weights.expiry_default", 10)
	v.SetDefault("slotting.weights.class_a", 10)
	v.SetDefault("slotting.weights.class_b", 8)
	v.SetDefault("slotting.weights.class_c", 5)
	v.SetDefault("slotting.weights.controlled_security", 10)
	v.SetDefault("slotting.weights.fragile_no_stacking", 5)
}
