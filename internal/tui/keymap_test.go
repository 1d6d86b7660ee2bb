package tui

import (
	"testing"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
)

// TestKeyMapMatches verifies default bindings resolve the expected keys.
func TestKeyMapMatches(t *testing.T) {
	km := newKeyMap()
	cases := []struct {
		name    string
		msg     tea.KeyPressMsg
		binding key.Binding
	}{
		{name: "quit q", msg: keyRune('q'), binding: km.quit},
		{name: "down j", msg: keyRune('j'), binding: km.moveDown},
		{name: "down arrow", msg: tea.KeyPressMsg{Code: tea.KeyDown}, binding: km.moveDown},
		{name: "up k", msg: keyRune('k'), binding: km.moveUp},
		{name: "last G", msg: keyRune('G'), binding: km.last},
		{name: "pending p", msg: keyRune('p'), binding: km.togglePending},
		{name: "variants tab", msg: tea.KeyPressMsg{Code: tea.KeyTab}, binding: km.variants},
		{name: "back esc", msg: tea.KeyPressMsg{Code: tea.KeyEscape}, binding: km.back},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !key.Matches(tc.msg, tc.binding) {
				t.Fatalf("expected %q to match %v", tc.msg.String(), tc.binding.Keys())
			}
		})
	}
}

// TestKeyMapHelpGroups verifies the help views expose every binding once.
func TestKeyMapHelpGroups(t *testing.T) {
	km := newKeyMap()
	if len(km.ShortHelp()) != 6 {
		t.Fatalf("unexpected short help size %d", len(km.ShortHelp()))
	}
	seen := map[string]bool{}
	for _, group := range km.FullHelp() {
		for _, b := range group {
			desc := b.Help().Desc
			if seen[desc] {
				t.Fatalf("duplicate help entry %q", desc)
			}
			seen[desc] = true
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 help entries, got %d", len(seen))
	}
}
