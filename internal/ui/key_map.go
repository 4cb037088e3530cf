package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the dashboard.
type keyMap struct {
	connect    key.Binding
	disconnect key.Binding
	check      key.Binding
	refresh    key.Binding
	ping       key.Binding
	quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
		check:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "check auth")),
		refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh token")),
		ping:       key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "ping")),
		quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.connect, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.connect, k.disconnect},
		{k.check, k.refresh, k.ping},
		{k.quit},
	}
}
