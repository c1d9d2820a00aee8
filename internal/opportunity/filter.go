package opportunity

import (
	"errors"
	"fmt"
	"strings"
)

// Filter bounds for trust_min.
const (
	TrustMinFloor   = 0
	TrustMinCeiling = 100
)

// MaxQueryLength bounds the free-text search term.
const MaxQueryLength = 200

// ErrTrustMinOutOfRange is returned when trust_min is outside 0-100.
var ErrTrustMinOutOfRange = errors.New("trust_min must be between 0 and 100")

// ErrQueryTooLong is returned when the search term exceeds MaxQueryLength.
var ErrQueryTooLong = errors.New("search query too long")

// Filter is the validated, closed-vocabulary filter set for one feed
// request. Empty slices mean "no constraint on that dimension". Filters are
// validated at the API boundary; the feed core assumes a valid Filter.
type Filter struct {
	Types        []Type
	Chains       []Chain
	Difficulties []Difficulty
	Urgencies    []Urgency
	TrustMin     int
	Query        string
}

// ParseFilter builds a Filter from raw query-parameter values, rejecting
// unknown enum members and out-of-range values. Multi-valued params arrive
// as repeated values or comma-separated lists; both are accepted.
func ParseFilter(types, chains, difficulties, urgencies []string, trustMin int, query string) (Filter, error) {
	var f Filter

	for _, raw := range splitMulti(types) {
		t, err := ParseType(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %q", err, raw)
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range splitMulti(chains) {
		c, err := ParseChain(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %q", err, raw)
		}
		f.Chains = append(f.Chains, c)
	}
	for _, raw := range splitMulti(difficulties) {
		d, err := ParseDifficulty(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %q", err, raw)
		}
		f.Difficulties = append(f.Difficulties, d)
	}
	for _, raw := range splitMulti(urgencies) {
		u, err := ParseUrgency(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %q", err, raw)
		}
		f.Urgencies = append(f.Urgencies, u)
	}

	if trustMin < TrustMinFloor || trustMin > TrustMinCeiling {
		return Filter{}, ErrTrustMinOutOfRange
	}
	f.TrustMin = trustMin

	query = strings.TrimSpace(query)
	if len(query) > MaxQueryLength {
		return Filter{}, ErrQueryTooLong
	}
	f.Query = query

	return f, nil
}

// splitMulti flattens repeated query values and comma-separated lists into
// one slice of trimmed, non-empty tokens.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Matches reports whether an opportunity passes every filter dimension.
// urgencies are the tags derived for this opportunity at snapshot time,
// trustScore is the effective score the ranker used (neutral default
// applied). Text matching follows the same case-insensitive substring
// semantics as catalog search.
func (f *Filter) Matches(o *Opportunity, urgencies []Urgency, trustScore int) bool {
	if len(f.Types) > 0 && !containsType(f.Types, o.Type) {
		return false
	}
	if len(f.Chains) > 0 && !containsChain(f.Chains, o.Chain) {
		return false
	}
	if len(f.Difficulties) > 0 && !containsDifficulty(f.Difficulties, o.Difficulty) {
		return false
	}
	if len(f.Urgencies) > 0 && !intersectsUrgency(f.Urgencies, urgencies) {
		return false
	}
	if trustScore < f.TrustMin {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(o.Title), q) &&
			!strings.Contains(strings.ToLower(o.Protocol), q) {
			return false
		}
	}
	return true
}

func containsType(set []Type, t Type) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func containsChain(set []Chain, c Chain) bool {
	for _, v := range set {
		if v == c {
			return true
		}
	}
	return false
}

func containsDifficulty(set []Difficulty, d Difficulty) bool {
	for _, v := range set {
		if v == d {
			return true
		}
	}
	return false
}

func intersectsUrgency(want []Urgency, have []Urgency) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
