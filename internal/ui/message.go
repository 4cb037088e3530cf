package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/relink/internal/auth"
	"github.com/desertthunder/relink/internal/realtime"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgAuthStatus MsgKind = iota
	MsgChannelState
	MsgTerminalFailure
	MsgServerEvent
	MsgActionDone
)

// authStatusMsg is the constructor for [MsgAuthStatus]
func authStatusMsg(status auth.Status) Msg {
	return Msg{kind: MsgAuthStatus, data: status}
}

// channelStateMsg is the constructor for [MsgChannelState]
func channelStateMsg(state realtime.State) Msg {
	return Msg{kind: MsgChannelState, data: state}
}

// terminalFailureMsg is the constructor for [MsgTerminalFailure]
func terminalFailureMsg(reason string) Msg {
	return Msg{kind: MsgTerminalFailure, data: reason}
}

// serverEventMsg is the constructor for [MsgServerEvent]
func serverEventMsg(entry eventEntry) Msg {
	return Msg{kind: MsgServerEvent, data: entry}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(label string, err error) Msg {
	return Msg{
		kind: MsgActionDone,
		data: struct {
			label string
			err   error
		}{label, err},
	}
}
