// Package socket carries the WebSocket side of the dispatch layer: a
// single registered handler applied uniformly to every upgraded
// connection, a Conn wrapper owning per-connection state and the
// read/write pumps, and a Broker for topic-based fan-out between
// connections.
package socket
