// Package ui implements an interactive terminal dashboard using bubbletea's Elm architecture.
//
// The TUI renders the live session status: the authentication projection,
// the realtime channel state, the pending outbound queue, and a rolling log
// of inbound server events. All data arrives over the event bus; the
// dashboard never polls the coordinator or the connection manager directly.
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern,
// receiving messages via the Msg union type. Keyboard actions (connect,
// disconnect, check, refresh, ping) run as commands so the event loop never
// blocks on the network.
package ui
