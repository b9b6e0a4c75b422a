package app

import (
	"errors"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

type SendFailureAction int

const (
	NoAction SendFailureAction = iota
	KickMember
)

// Policy decides what the host does with a guest whose send failed during a
// broadcast.
type Policy interface {
	OnSendFailure(remote domain.SessionID, err error) SendFailureAction
}

// SimplePolicy kicks guests whose channel is already closed and keeps the
// rest; a transient failure such as backpressure is only logged.
type SimplePolicy struct{}

func (SimplePolicy) OnSendFailure(_ domain.SessionID, err error) SendFailureAction {
	if errors.Is(err, core.ErrChannelClosed) {
		return KickMember
	}
	return NoAction
}
