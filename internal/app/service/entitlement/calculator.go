package entitlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/courseloom/entitlements/pkg/types"
)

// ReferenceZone is applied to provider timestamps that carry no explicit
// offset before they are compared against the clock.
var ReferenceZone = time.FixedZone("-03:00", -3*60*60)

// Calculate derives the subscription lifecycle status from its inputs.
// Pure: no clock access, no side effects.
//
// Rule table:
//   - no plan                          -> INACTIVE
//   - no validity, or validity <= now  -> INACTIVE
//   - valid, renewal unknown           -> ACTIVE
//   - valid, renewal enabled           -> ACTIVE_WITH_AUTO_RENEW
//   - valid, renewal disabled          -> ACTIVE_UNTIL_PERIOD_END
func Calculate(planID *string, validUntil *time.Time, autoRenew types.AutoRenew, now time.Time) types.EntitlementStatus {
	if planID == nil || *planID == "" {
		return types.EntitlementStatusInactive
	}
	if validUntil == nil || !validUntil.After(now) {
		return types.EntitlementStatusInactive
	}
	switch autoRenew {
	case types.AutoRenewEnabled:
		return types.EntitlementStatusActiveWithAutoRenew
	case types.AutoRenewDisabled:
		return types.EntitlementStatusActiveUntilPeriodEnd
	default:
		return types.EntitlementStatusActive
	}
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a provider timestamp string. Values with an
// explicit offset (including a trailing Z, equivalent to +00:00) keep it;
// zoneless values are interpreted in ReferenceZone.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, ReferenceZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
