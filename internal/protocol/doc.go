// Package protocol owns the JSON wire contract of both bridge channels.
//
// Ownership boundary:
// - upstream requests (connect handshake, agent, approval) and response detection
// - downstream inbound/outbound envelopes
// - upstream event translation into the downstream progress/complete/error form
package protocol
