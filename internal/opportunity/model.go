// Package opportunity provides the catalog read model for DeFi opportunities
// together with the closed filter vocabulary used by the feed.
package opportunity

import (
	"errors"
	"time"
)

// Type classifies what kind of action an opportunity asks of the user.
type Type string

// Valid opportunity types.
const (
	TypeAirdrop   Type = "airdrop"
	TypeStaking   Type = "staking"
	TypeLiquidity Type = "liquidity"
	TypeQuest     Type = "quest"
	TypeLoyalty   Type = "loyalty"
)

// Chain identifies the network an opportunity lives on.
type Chain string

// Valid chains.
const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainBase     Chain = "base"
	ChainOptimism Chain = "optimism"
	ChainSolana   Chain = "solana"
)

// Difficulty grades how much DeFi experience an opportunity assumes.
type Difficulty string

// Valid difficulties.
const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Urgency is a derived tag, never stored: it is recomputed from expiry,
// publish time and the trending signal whenever a rank snapshot is built.
type Urgency string

// Valid urgency tags.
const (
	UrgencyEndingSoon Urgency = "ending_soon"
	UrgencyHot        Urgency = "hot"
	UrgencyNew        Urgency = "new"
)

// Windows for derived urgency tags.
const (
	EndingSoonWindow = 48 * time.Hour
	NewWindow        = 24 * time.Hour
)

// Validation errors for enum parsing.
var (
	ErrUnknownType       = errors.New("unknown opportunity type")
	ErrUnknownChain      = errors.New("unknown chain")
	ErrUnknownDifficulty = errors.New("unknown difficulty")
	ErrUnknownUrgency    = errors.New("unknown urgency")
)

var validTypes = map[Type]bool{
	TypeAirdrop:   true,
	TypeStaking:   true,
	TypeLiquidity: true,
	TypeQuest:     true,
	TypeLoyalty:   true,
}

var validChains = map[Chain]bool{
	ChainEthereum: true,
	ChainArbitrum: true,
	ChainBase:     true,
	ChainOptimism: true,
	ChainSolana:   true,
}

var validDifficulties = map[Difficulty]bool{
	DifficultyBeginner:     true,
	DifficultyIntermediate: true,
	DifficultyAdvanced:     true,
}

var validUrgencies = map[Urgency]bool{
	UrgencyEndingSoon: true,
	UrgencyHot:        true,
	UrgencyNew:        true,
}

// ParseType validates a raw type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !validTypes[t] {
		return "", ErrUnknownType
	}
	return t, nil
}

// ParseChain validates a raw chain string.
func ParseChain(s string) (Chain, error) {
	c := Chain(s)
	if !validChains[c] {
		return "", ErrUnknownChain
	}
	return c, nil
}

// ParseDifficulty validates a raw difficulty string.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(s)
	if !validDifficulties[d] {
		return "", ErrUnknownDifficulty
	}
	return d, nil
}

// ParseUrgency validates a raw urgency string.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(s)
	if !validUrgencies[u] {
		return "", ErrUnknownUrgency
	}
	return u, nil
}

// Opportunity is a catalog entry. The catalog system owns the record; this
// service only reads a consistent snapshot of it. TrustScore is the
// Guardian-supplied 0-100 rating and is nil until the first scan completes.
type Opportunity struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Protocol    string     `json:"protocol"`
	Type        Type       `json:"type"`
	Chain       Chain      `json:"chain"`
	Difficulty  Difficulty `json:"difficulty"`
	RewardUSD   *float64   `json:"reward_usd,omitempty"`
	TrustScore  *int       `json:"trust_score,omitempty"`
	Sponsored   bool       `json:"sponsored"`
	Featured    bool       `json:"featured"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Expired reports whether the opportunity's validity window has closed.
// Opportunities without an expiry never expire.
func (o *Opportunity) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Urgencies derives the urgency tags for this opportunity at the given
// instant. The hot flag comes from the trending signal and is owned by the
// caller, since this model has no telemetry access.
func (o *Opportunity) Urgencies(now time.Time, hot bool) []Urgency {
	var tags []Urgency
	if o.ExpiresAt != nil && o.ExpiresAt.After(now) && o.ExpiresAt.Sub(now) <= EndingSoonWindow {
		tags = append(tags, UrgencyEndingSoon)
	}
	if hot {
		tags = append(tags, UrgencyHot)
	}
	if now.Sub(o.PublishedAt) <= NewWindow {
		tags = append(tags, UrgencyNew)
	}
	return tags
}
