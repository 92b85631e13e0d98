package selection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashstream/engine/internal/manifest"
)

func TestPickPrefersLanguageOverRole(t *testing.T) {
	en := &manifest.Stream{Language: "en", Roles: []string{"alternate"}}
	fr := &manifest.Stream{Language: "fr", Roles: []string{"main"}}
	got := Pick([]*manifest.Stream{fr, en}, Preferences{Language: "en", Role: "main"})
	require.Same(t, en, got)
}

func TestPickFallsBackToBaseLanguage(t *testing.T) {
	enUS := &manifest.Stream{Language: "en-US"}
	fr := &manifest.Stream{Language: "fr"}
	got := Pick([]*manifest.Stream{fr, enUS}, Preferences{Language: "en"})
	require.Same(t, enUS, got)
}

func TestPickPrimaryBreaksTie(t *testing.T) {
	a := &manifest.Stream{Language: "en"}
	b := &manifest.Stream{Language: "en", Primary: true}
	got := Pick([]*manifest.Stream{a, b}, Preferences{Language: "en"})
	require.Same(t, b, got)
}

func TestPickEmptyCandidates(t *testing.T) {
	require.Nil(t, Pick(nil, Preferences{}))
}

func TestPickNoPreferencesKeepsFirst(t *testing.T) {
	a := &manifest.Stream{Language: "en"}
	b := &manifest.Stream{Language: "fr"}
	got := Pick([]*manifest.Stream{a, b}, Preferences{})
	require.Same(t, a, got)
}
