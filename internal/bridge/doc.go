// Package bridge joins the upstream agent gateway and the downstream webhook channel.
//
// Ownership boundary:
// - classification of downstream frames (control, chatter, command, conversation)
// - session key resolution, reset policy, inbound metadata recording
// - upstream event filtering and translation toward the downstream side
//
// Build with New, wire both channels once with Attach, then Run.
package bridge
