package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Handshake constants sent on every fresh upstream connection.
const (
	ProtocolVersion = 3
	ClientID        = "gateway-client"
	ClientVersion   = "0.2.0"
	ClientPlatform  = "linux"
	ClientMode      = "backend"
	OperatorRole    = "operator"
	DefaultLocale   = "zh-CN"
	UserAgent       = "openclaw-bridge-go"
)

var OperatorScopes = []string{"operator.read", "operator.write", "operator.admin"}

const (
	FrameRequest = "req"

	MethodConnect  = "connect"
	MethodAgent    = "agent"
	MethodApproval = "approval.respond"
)

// Request is the upstream request envelope.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

type Auth struct {
	Token string `json:"token"`
}

type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Auth        Auth       `json:"auth"`
	Locale      string     `json:"locale"`
	UserAgent   string     `json:"userAgent"`
}

type AgentParams struct {
	Message        string `json:"message"`
	AgentID        string `json:"agentId"`
	SessionKey     string `json:"sessionKey"`
	Deliver        bool   `json:"deliver"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type ApprovalParams struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
}

func NewConnectRequest(token string) Request {
	scopes := make([]string, len(OperatorScopes))
	copy(scopes, OperatorScopes)
	return Request{
		Type:   FrameRequest,
		ID:     MethodConnect,
		Method: MethodConnect,
		Params: ConnectParams{
			MinProtocol: ProtocolVersion,
			MaxProtocol: ProtocolVersion,
			Client: ClientInfo{
				ID:       ClientID,
				Version:  ClientVersion,
				Platform: ClientPlatform,
				Mode:     ClientMode,
			},
			Role:      OperatorRole,
			Scopes:    scopes,
			Auth:      Auth{Token: token},
			Locale:    DefaultLocale,
			UserAgent: UserAgent,
		},
	}
}

// NewAgentRequest tags the request with nanos, reused as the idempotency key.
func NewAgentRequest(message, agentID, sessionKey string, nanos int64) Request {
	stamp := strconv.FormatInt(nanos, 10)
	return Request{
		Type:   FrameRequest,
		ID:     MethodAgent + ":" + stamp,
		Method: MethodAgent,
		Params: AgentParams{
			Message:        message,
			AgentID:        agentID,
			SessionKey:     sessionKey,
			Deliver:        true,
			IdempotencyKey: stamp,
		},
	}
}

func NewApprovalRequest(requestID string, approved bool, nanos int64) Request {
	return Request{
		Type:   FrameRequest,
		ID:     fmt.Sprintf("%s:%d", MethodApproval, nanos),
		Method: MethodApproval,
		Params: ApprovalParams{
			RequestID: requestID,
			Approved:  approved,
		},
	}
}

func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s request: %w", r.Method, err)
	}
	return data, nil
}

// Envelope is the discriminator view shared by every upstream frame.
type Envelope struct {
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	ID         string          `json:"id"`
	SessionKey string          `json:"sessionKey"`
	OK         *bool           `json:"ok,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return env, nil
}

var housekeepingEvents = map[string]struct{}{
	"lifecycle": {},
	"tick":      {},
	"presence":  {},
	"health":    {},
}

// IsHousekeeping reports upstream chatter that never reaches the downstream side.
func (e Envelope) IsHousekeeping() bool {
	_, ok := housekeepingEvents[e.Event]
	return ok
}

// IsResponse reports a reply to an earlier upstream request.
func (e Envelope) IsResponse() bool {
	return e.ID != "" && (e.Type == "res" || e.Type == "response")
}

// Rejected reports a response carrying ok=false or an error body.
func (e Envelope) Rejected() (string, bool) {
	if e.OK != nil && !*e.OK {
		return errorText(e.Error), true
	}
	if len(e.Error) > 0 && string(e.Error) != "null" {
		return errorText(e.Error), true
	}
	return "", false
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "rejected"
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return text
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}

// InboundMessage is a conversational frame from the downstream side.
type InboundMessage struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Session  string `json:"session,omitempty"`
	PeerKind string `json:"peerKind,omitempty"`
	PeerID   string `json:"peerId,omitempty"`
	ChatType string `json:"chatType,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
	SenderID string `json:"senderId,omitempty"`
	TopicID  string `json:"topicId,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	Type     string `json:"type,omitempty"`
}

func DecodeInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return msg, nil
}

// IsChatter reports downstream control chatter that carries no conversation.
func (m InboundMessage) IsChatter() bool {
	switch m.Type {
	case "connected", "error", "event":
		return true
	default:
		return false
	}
}

// Downstream outbound message types.
const (
	TypeProgress = "progress"
	TypeComplete = "complete"
	TypeError    = "error"
)

// OutboundMessage is the canonical downstream form.
type OutboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Session string `json:"session"`
}

func (m OutboundMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode outbound: %w", err)
	}
	return data, nil
}

// LocalReply wraps a bridge-generated answer for the downstream side.
func LocalReply(content, session string) OutboundMessage {
	return OutboundMessage{Type: TypeComplete, Content: content, Session: session}
}
