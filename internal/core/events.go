package core

import "github.com/dkeye/Lobby/internal/domain"

// Message is an inbound payload with the remote it arrived from. For a guest
// From is always the host.
type Message struct {
	From    domain.SessionID
	Payload Frame
}

// SessionEvents is implemented by the UI collaborator. Calls are made without
// any session lock held, so handlers may call back into the session.
type SessionEvents interface {
	IdentityReady(id domain.SessionID)
	ConnectedAsGuest(host domain.SessionID)
	GuestConnected(remote domain.SessionID)
	GuestDisconnected(remote domain.SessionID)
	ReceivedMessage(msg Message)
	ConnectionError(err error)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) IdentityReady(domain.SessionID)     {}
func (NopEvents) ConnectedAsGuest(domain.SessionID)  {}
func (NopEvents) GuestConnected(domain.SessionID)    {}
func (NopEvents) GuestDisconnected(domain.SessionID) {}
func (NopEvents) ReceivedMessage(Message)            {}
func (NopEvents) ConnectionError(error)              {}
