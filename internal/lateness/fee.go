package lateness

import (
	"math"
	"sort"

	"github.com/arisanid/arisan/internal/domain"
)

// CalculateLateFee computes the late fee for an outstanding amount under
// a circle's fee configuration. It is a pure function of its arguments.
// A nil config means no fee applies; within the fee-specific grace
// window the fee is always zero.
func CalculateLateFee(outstanding float64, cfg *domain.LateFeeConfig, daysLate int) float64 {
	if cfg == nil || outstanding <= 0 {
		return 0
	}
	if daysLate <= cfg.GraceDays {
		return 0
	}

	var fee float64
	switch cfg.PolicyType {
	case domain.FeePolicyFlat:
		fee = cfg.FlatAmount
	case domain.FeePolicyPercentage:
		fee = outstanding * cfg.PercentageRate
	case domain.FeePolicyTiered:
		fee = tieredFee(cfg.Tiers, daysLate)
	default:
		return 0
	}

	if cfg.MaxFeeAmount > 0 && fee > cfg.MaxFeeAmount {
		fee = cfg.MaxFeeAmount
	}
	return Round2(fee)
}

// tieredFee scans thresholds descending and picks the first one met.
func tieredFee(tiers []domain.FeeTier, daysLate int) float64 {
	sorted := make([]domain.FeeTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AfterDays > sorted[j].AfterDays
	})
	for _, tier := range sorted {
		if daysLate >= tier.AfterDays {
			return tier.Amount
		}
	}
	return 0
}

// ResolveFeeConfig picks the circle's own fee configuration, falling
// back to the community-wide default when the circle has none.
func ResolveFeeConfig(circleCfg, communityCfg *domain.LateFeeConfig) *domain.LateFeeConfig {
	if circleCfg != nil {
		return circleCfg
	}
	return communityCfg
}

// Round2 rounds a monetary amount to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
