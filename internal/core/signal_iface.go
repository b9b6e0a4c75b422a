package core

import (
	"context"

	"github.com/dkeye/Lobby/internal/domain"
)

// Frame is an opaque application payload.
type Frame []byte

// Channel is one negotiated transport link to a remote participant.
// Owned by whoever dialed or accepted it; that owner must Close() it.
//
// OnOpen and OnClose fire at most once. OnMessage and OnError may fire any
// number of times. Messages are delivered in the order the remote sent them.
// Events that happen before a handler is installed are held and delivered
// once it is. Adapters call handlers from their own goroutines, one at a
// time per channel.
type Channel interface {
	RemoteID() domain.SessionID
	Send(Frame) error
	Close() error
	IsOpen() bool

	OnOpen(func())
	OnMessage(func(Frame))
	OnClose(func())
	OnError(func(error))
}

// Registration is an identifier held in the directory.
type Registration interface {
	ID() domain.SessionID
	// Dial starts negotiating a channel to remote. The returned channel is
	// pending until OnOpen fires.
	Dial(ctx context.Context, remote domain.SessionID) (Channel, error)
	// OnChannel sets the handler for channels remote participants open to us.
	OnChannel(func(Channel))
	// OnError sets the handler for signaling failures after registration.
	OnError(func(error))
	// Release frees the identifier. Releasing twice is a no-op.
	Release() error
}

// Signaling is the rendezvous directory.
type Signaling interface {
	Register(ctx context.Context, id domain.SessionID) (Registration, error)
}
