package signal

import (
	"sync"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

// Directory maps registered identifiers to the socket that holds them.
type Directory struct {
	mu    sync.RWMutex
	peers map[domain.SessionID]*WsSignalConn
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[domain.SessionID]*WsSignalConn)}
}

// Register binds id to conn. An id held by another socket is refused;
// re-registering on the same socket is a no-op.
func (d *Directory) Register(id domain.SessionID, conn *WsSignalConn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.peers[id]; ok && cur != conn {
		return core.ErrIDTaken
	}
	d.peers[id] = conn
	return nil
}

// Unregister frees id if conn still holds it.
func (d *Directory) Unregister(id domain.SessionID, conn *WsSignalConn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.peers[id]; !ok || cur != conn {
		return false
	}
	delete(d.peers, id)
	return true
}

func (d *Directory) Lookup(id domain.SessionID) (*WsSignalConn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.peers[id]
	return conn, ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
