package sessions

import (
	"fmt"
	"strings"

	"github.com/danmuck/clawbridge/internal/protocol"
)

// Scope maps sender identity to session-key granularity.
type Scope string

const (
	ScopePerSender Scope = "per-sender"
	ScopeGlobal    Scope = "global"
)

const (
	DefaultAgentID = "main"
	GlobalKey      = "global"
)

func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "per-sender", "per_sender", "persender":
		return ScopePerSender, nil
	case "global":
		return ScopeGlobal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
}

// Peer is the normalized sender identity of an inbound message.
type Peer struct {
	Kind     string
	ID       string
	TopicID  string
	ThreadID string
}

// PeerOf coalesces the alternative identity fields of msg.
func PeerOf(msg protocol.InboundMessage) Peer {
	return Peer{
		Kind:     coalesce(msg.PeerKind, msg.ChatType),
		ID:       coalesce(msg.PeerID, msg.ChatID, msg.SenderID),
		TopicID:  strings.TrimSpace(msg.TopicID),
		ThreadID: strings.TrimSpace(msg.ThreadID),
	}
}

// ResolveKey picks the session key for msg. The first matching rule wins:
// explicit session, composite peer key, then the scope fallback.
func ResolveKey(scope Scope, agentID string, msg protocol.InboundMessage) string {
	if explicit := strings.TrimSpace(msg.Session); explicit != "" {
		return explicit
	}
	if key, ok := BuildPeerKey(agentID, PeerOf(msg)); ok {
		return key
	}
	if scope == ScopeGlobal {
		return GlobalKey
	}
	if id := strings.TrimSpace(msg.ID); id != "" {
		return "webhook:" + id
	}
	return fmt.Sprintf("agent:%s:main", agentOrDefault(agentID))
}

// BuildPeerKey returns webhook:<agent>:<kind>:<id>[:<topic>][:<thread>].
func BuildPeerKey(agentID string, peer Peer) (string, bool) {
	kind := strings.TrimSpace(peer.Kind)
	id := strings.TrimSpace(peer.ID)
	if kind == "" || id == "" {
		return "", false
	}
	parts := []string{"webhook", agentOrDefault(agentID), kind, id}
	if topic := strings.TrimSpace(peer.TopicID); topic != "" {
		parts = append(parts, topic)
	}
	if thread := strings.TrimSpace(peer.ThreadID); thread != "" {
		parts = append(parts, thread)
	}
	return strings.Join(parts, ":"), true
}

// DeliveryThreadID picks the reply thread for a peer kind.
func DeliveryThreadID(peer Peer) string {
	switch peer.Kind {
	case "dm":
		return peer.ThreadID
	case "group", "channel":
		return coalesce(peer.TopicID, peer.ThreadID)
	default:
		return ""
	}
}

// InboundDeliveryContext derives the reply route for msg on this bridge instance.
func InboundDeliveryContext(msg protocol.InboundMessage, uid string) DeliveryContext {
	peer := PeerOf(msg)
	return DeliveryContext{
		Channel:   ChannelWebhook,
		To:        coalesce(peer.ID, msg.ID),
		AccountID: uid,
		ThreadID:  DeliveryThreadID(peer),
	}
}

// MatchResetTrigger reports whether content is a reset trigger, alone or followed
// by a space and remaining text. rest is the text to forward after the trigger.
func MatchResetTrigger(content string, triggers []string) (rest string, ok bool) {
	trimmed := strings.TrimSpace(content)
	for _, trigger := range triggers {
		if trimmed == trigger {
			return "", true
		}
		if strings.HasPrefix(trimmed, trigger+" ") {
			return strings.TrimSpace(trimmed[len(trigger)+1:]), true
		}
	}
	return content, false
}

func agentOrDefault(agentID string) string {
	if id := strings.TrimSpace(agentID); id != "" {
		return id
	}
	return DefaultAgentID
}

func coalesce(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
