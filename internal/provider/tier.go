package provider

import "strings"

// Tier is the externally computed complexity class of a request.
type Tier string

const (
	TierNone     Tier = ""
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
)

func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return string(t)
}

// ParseTier normalises a tier name. Unknown names map to TierNone.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierSimple:
		return TierSimple
	case TierModerate:
		return TierModerate
	case TierComplex:
		return TierComplex
	default:
		return TierNone
	}
}
