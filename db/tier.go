package db

import "fmt"

// Tier identifies one of the ranked database backends. Lower values are
// preferred.
type Tier int32

const (
	TierPrimary Tier = iota
	TierSecondary
	TierFallback
	// TierNone means no tier is known to be good.
	TierNone
)

const numTiers = int(TierNone)

var tierNames = [...]string{
	TierPrimary:   "primary",
	TierSecondary: "secondary",
	TierFallback:  "fallback",
	TierNone:      "none",
}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return fmt.Sprintf("tier(%d)", int32(t))
	}
	return tierNames[t]
}

// Valid reports whether t names a real backend (not TierNone).
func (t Tier) Valid() bool {
	return t >= TierPrimary && t < TierNone
}

func (t Tier) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(tierNames) {
		return nil, fmt.Errorf("invalid tier %d", int32(t))
	}
	return []byte(tierNames[t]), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier converts a tier name back into a Tier.
func ParseTier(name string) (Tier, error) {
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return TierNone, fmt.Errorf("unknown tier %q", name)
}
