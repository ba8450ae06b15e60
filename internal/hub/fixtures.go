package hub

// NewTestConnection builds a bare Connection identified by id, with no
// backing transport or owning Hub. It exists so packages that depend on
// *hub.Connection only for its identity (lifecycle.Coordinator's dispatch
// methods, which never touch the transport directly) can exercise that
// dependency in tests without standing up a real WebSocket upgrade.
func NewTestConnection(id string) *Connection {
	return &Connection{
		id:            id,
		correlationID: id,
		send:          make(chan []byte, sendBufferSize),
	}
}
