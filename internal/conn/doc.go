// Package conn owns the reconnecting duplex channel shared by both bridge endpoints.
//
// Ownership boundary:
// - websocket dial, handshake hook, ping/pong answering
// - reconnect supervision with bounded exponential backoff
// - connection state cell and bounded outbound queue
//
// Frames are opaque bytes here; decoding belongs to the caller's FrameHandler.
package conn
