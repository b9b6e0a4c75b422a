package core

import "errors"

var (
	ErrIdentityRegistrationFailed = errors.New("session: identity registration failed")
	ErrChannelOpenFailed          = errors.New("session: channel open failed")
	ErrChannelSendFailed          = errors.New("session: channel send failed")
	ErrNotConnected               = errors.New("session: not connected")

	ErrNotRegistered  = errors.New("session: no registered identity")
	ErrAlreadyHosting = errors.New("session: already hosting")
	ErrAlreadyGuest   = errors.New("session: already connected as guest")
	ErrNotHosting     = errors.New("session: not hosting")
	ErrSelfConnect    = errors.New("session: cannot connect to own identity")

	ErrIDTaken       = errors.New("signaling: identifier already registered")
	ErrPeerNotFound  = errors.New("signaling: remote identifier not registered")
	ErrReleased      = errors.New("signaling: registration released")
	ErrChannelClosed = errors.New("channel: closed")
	ErrBackpressure  = errors.New("channel: backpressure")
)
