package config

// Tier is a named entitlement level bounding model access and quotas.
type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

// TierLimits describes the consumption quotas and model allow-list for a tier.
type TierLimits struct {
	MonthlyTokenLimit int
	DailyMessageLimit int
	AllowedModels     []string
}

var tierLimits = map[Tier]TierLimits{
	TierFree: {
		MonthlyTokenLimit: 50_000,
		DailyMessageLimit: 25,
		AllowedModels: []string{
			"gpt-4o-mini",
			"claude-3-5-haiku-20241022",
			"meta-llama/llama-3.3-70b-instruct",
		},
	},
	TierBasic: {
		MonthlyTokenLimit: 500_000,
		DailyMessageLimit: 100,
		AllowedModels: []string{
			"gpt-4o-mini",
			"gpt-4o",
			"claude-3-5-haiku-20241022",
			"claude-sonnet-4-20250514",
			"meta-llama/llama-3.3-70b-instruct",
			"mistralai/mistral-large-2411",
		},
	},
	TierPro: {
		MonthlyTokenLimit: Unlimited,
		DailyMessageLimit: Unlimited,
		AllowedModels: []string{
			"gpt-4o-mini",
			"gpt-4o",
			"o1-mini",
			"o3-mini",
			"claude-3-5-haiku-20241022",
			"claude-sonnet-4-20250514",
			"claude-opus-4-20250514",
			"meta-llama/llama-3.3-70b-instruct",
			"mistralai/mistral-large-2411",
		},
	},
}

// LimitsForTier resolves the limits for a tier name. Unrecognized or empty
// tiers fall back to the most restrictive tier rather than failing open.
func LimitsForTier(name string) (Tier, TierLimits) {
	tier := Tier(name)
	limits, ok := tierLimits[tier]
	if !ok {
		return TierFree, tierLimits[TierFree]
	}
	return tier, limits
}

// AllowsModel reports whether the tier's allow-list contains the model.
func (l TierLimits) AllowsModel(model string) bool {
	for _, m := range l.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// AllModels returns the union of every tier's allow-list, which by
// construction equals the pro tier's list.
func AllModels() []string {
	return tierLimits[TierPro].AllowedModels
}
