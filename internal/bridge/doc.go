// Package bridge implements the wire protocol between the hub and Unity
// editor instances.
//
// # Framing
//
// Every message is one frame: a 4-byte big-endian length header followed by
// that many bytes of JSON. Frames keep message boundaries unambiguous over
// the byte stream; a receive timeout bounds how long the hub waits for a
// complete frame before treating the peer as stalled.
//
// # Handshake
//
// On accept the hub sends welcome{serverTimeout, keepAliveInterval}. The
// client must answer with a register message within the handshake timeout or
// the connection is closed.
//
// # Heartbeat
//
// The hub pings each connection every keep-alive interval. A pong must land
// within the heartbeat timeout; more than max_heartbeat_frames consecutive
// silent cycles disconnects the instance.
//
// # Correlation
//
// Conn keeps a pending map from command id to result channel. Execute
// messages are delivered in send order, but results may arrive out of order;
// each command_result is routed by id. A result for an id with no pending
// entry is late or duplicate and is logged and discarded.
package bridge
