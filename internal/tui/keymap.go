package tui

import "charm.land/bubbles/v2/key"

// keyMap holds the run browser bindings.
type keyMap struct {
	quit          key.Binding
	reload        key.Binding
	toggleHelp    key.Binding
	moveUp        key.Binding
	moveDown      key.Binding
	first         key.Binding
	last          key.Binding
	togglePending key.Binding
	variants      key.Binding
	back          key.Binding
}

// newKeyMap constructs the default run browser bindings.
func newKeyMap() keyMap {
	return keyMap{
		quit:          key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:        key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "run up")),
		moveDown:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "run down")),
		first:         key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "first run")),
		last:          key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "last run")),
		togglePending: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pending records")),
		variants:      key.NewBinding(key.WithKeys("s", "tab"), key.WithHelp("s", "variant summary")),
		back:          key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	}
}

// ShortHelp returns the compact help line bindings.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.moveUp, k.moveDown, k.togglePending, k.variants, k.toggleHelp, k.quit}
}

// FullHelp returns the expanded help bindings grouped by column.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.first, k.last},
		{k.togglePending, k.variants, k.back},
		{k.reload, k.toggleHelp, k.quit},
	}
}
