package signal

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	_ = ctl.sendJSON(conn, Message{Type: TypePong})
}

func (ctl *SignalWSController) handleUnregister(conn *WsSignalConn) {
	ctl.release(conn)
}

func (ctl *SignalWSController) handleWhoAmI(conn *WsSignalConn) {
	_ = ctl.sendJSON(conn, Message{Type: TypeWhoAmI, ID: string(conn.ID())})
}
