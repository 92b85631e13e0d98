// Package selection picks the best-matching audio/text Stream for a set
// of caller preferences (§4.5), scoring candidates on the priority order
// language > role > primary > label > channel_count rather than requiring
// an exact match on every field.
package selection

import (
	"github.com/dashstream/engine/internal/manifest"
)

// Preferences is the caller's desired track characteristics. Zero values
// mean "no preference" for that dimension.
type Preferences struct {
	Language     string
	Role         string
	PreferLabel  string
	ChannelCount int
}

// Pick returns the candidate scoring highest against prefs, or nil if
// candidates is empty. Ties keep the earlier candidate, mirroring a
// stable sort over the original manifest order.
func Pick(candidates []*manifest.Stream, prefs Preferences) *manifest.Stream {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	bestScore := score(best, prefs)
	for _, c := range candidates[1:] {
		if s := score(c, prefs); s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best
}

// score weights each dimension so that a higher-priority match always
// outweighs every combination of lower-priority matches, implementing the
// priority order language_match > role_match > primary > label_match >
// channel_count_match as a single comparable integer.
func score(s *manifest.Stream, prefs Preferences) int {
	const (
		wLanguage = 1 << 4
		wRole     = 1 << 3
		wPrimary  = 1 << 2
		wLabel    = 1 << 1
		wChannel  = 1 << 0
	)
	total := 0
	if prefs.Language != "" && languageMatches(s.Language, prefs.Language) {
		total += wLanguage
	}
	if prefs.Role != "" && hasRole(s.Roles, prefs.Role) {
		total += wRole
	}
	if s.Primary {
		total += wPrimary
	}
	if prefs.PreferLabel != "" && s.Label == prefs.PreferLabel {
		total += wLabel
	}
	if prefs.ChannelCount > 0 && s.ChannelCount == prefs.ChannelCount {
		total += wChannel
	}
	return total
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// languageMatches treats a base-language prefix match (e.g. "en" against
// "en-US") as a match, the way BCP47 fallback negotiation does.
func languageMatches(have, want string) bool {
	if have == want {
		return true
	}
	n := len(want)
	return len(have) > n && have[:n] == want && have[n] == '-'
}
