// rules.go builds the engine's fixed rule set from configuration. The rules
// themselves are code; config supplies thresholds and may override a rule's
// cooldown or channel set, or disable it entirely.
package alert

import (
	"fmt"
	"time"

	"github.com/audit-sentinel/audit-sentinel/internal/config"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
)

// Channel identifiers understood by the dispatcher.
const (
	ChannelEmail      = "email"
	ChannelWebhook    = "webhook"
	ChannelMonitoring = "monitoring"
)

// BuildRules returns the built-in rule list with config thresholds and
// per-rule overrides applied. An override naming an unknown rule is an error
// so config typos surface at startup instead of silently alerting nothing.
func BuildRules(cfg *config.AlertingConfig) ([]Rule, error) {
	errRate := cfg.ErrorRateThreshold
	errCount := cfg.ErrorCountThreshold
	slowResp := cfg.SlowResponseThreshold

	rules := []Rule{
		{
			Name:     "suspicious_activity",
			Severity: models.AlertLevelCritical,
			Cooldown: 5 * time.Minute,
			Channels: []string{ChannelEmail, ChannelWebhook, ChannelMonitoring},
			Condition: func(c Context) bool {
				return c.SuspiciousEntry != nil
			},
		},
		{
			Name:     "high_error_rate",
			Severity: models.AlertLevelHigh,
			Cooldown: 15 * time.Minute,
			Channels: []string{ChannelEmail, ChannelMonitoring},
			Condition: func(c Context) bool {
				return c.ErrorRate > errRate
			},
		},
		{
			Name:     "error_count_spike",
			Severity: models.AlertLevelMedium,
			Cooldown: 10 * time.Minute,
			Channels: []string{ChannelMonitoring},
			Condition: func(c Context) bool {
				return c.ErrorCount > errCount
			},
		},
		{
			Name:     "slow_responses",
			Severity: models.AlertLevelLow,
			Cooldown: 30 * time.Minute,
			Channels: []string{ChannelMonitoring},
			Condition: func(c Context) bool {
				return c.AvgResponseTime > slowResp
			},
		},
	}

	byName := make(map[string]int, len(rules))
	for i, r := range rules {
		byName[r.Name] = i
	}

	kept := make([]Rule, 0, len(rules))
	applied := make(map[string]config.RuleOverride, len(cfg.Rules))
	for _, ov := range cfg.Rules {
		if _, ok := byName[ov.Name]; !ok {
			return nil, fmt.Errorf("alerting.rules: unknown rule %q", ov.Name)
		}
		applied[ov.Name] = ov
	}

	for _, r := range rules {
		ov, ok := applied[r.Name]
		if ok {
			if ov.Disabled {
				continue
			}
			if ov.CooldownMinutes > 0 {
				r.Cooldown = time.Duration(ov.CooldownMinutes) * time.Minute
			}
			if len(ov.Channels) > 0 {
				for _, ch := range ov.Channels {
					if ch != ChannelEmail && ch != ChannelWebhook && ch != ChannelMonitoring {
						return nil, fmt.Errorf("alerting.rules.%s: unknown channel %q", r.Name, ch)
					}
				}
				r.Channels = ov.Channels
			}
		}
		kept = append(kept, r)
	}

	return kept, nil
}
