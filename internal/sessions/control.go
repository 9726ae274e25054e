package sessions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ControlType names a session-control envelope.
type ControlType string

const (
	ControlGet    ControlType = "session.get"
	ControlList   ControlType = "session.list"
	ControlReset  ControlType = "session.reset"
	ControlDelete ControlType = "session.delete"
)

func (t ControlType) Valid() bool {
	switch t {
	case ControlGet, ControlList, ControlReset, ControlDelete:
		return true
	default:
		return false
	}
}

// ControlMessage is a session-control request from the downstream side.
type ControlMessage struct {
	Type ControlType `json:"type"`
	Key  string      `json:"key,omitempty"`
	ID   string      `json:"id,omitempty"`
}

// TargetKey is the addressed session key; id is accepted as an alias.
func (m ControlMessage) TargetKey() string {
	return coalesce(m.Key, m.ID)
}

// ParseControl returns the control envelope in data, if data is one.
func ParseControl(data []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	if !msg.Type.Valid() {
		return ControlMessage{}, false
	}
	return msg, true
}

type SessionInfo struct {
	Key             string           `json:"key"`
	SessionID       string           `json:"sessionId"`
	UpdatedAt       int64            `json:"updatedAt"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	LastChannel     string           `json:"lastChannel,omitempty"`
	LastTo          string           `json:"lastTo,omitempty"`
}

type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

type ControlResult struct {
	Success bool   `json:"success,omitempty"`
	Key     string `json:"key,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ControlResponse is the downstream reply envelope.
type ControlResponse struct {
	Type ControlType `json:"type"`
	Data any         `json:"data"`
}

func (r ControlResponse) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("sessions: encode %s response: %w", r.Type, err)
	}
	return data, nil
}

func infoOf(key string, entry SessionEntry) SessionInfo {
	return SessionInfo{
		Key:             key,
		SessionID:       entry.SessionID,
		UpdatedAt:       entry.UpdatedAt,
		DeliveryContext: entry.DeliveryContext,
		LastChannel:     entry.LastChannel,
		LastTo:          entry.LastTo,
	}
}

// Controller answers session-control envelopes against a Store.
type Controller struct {
	store *Store
}

func NewController(store *Store) *Controller {
	return &Controller{store: store}
}

// Handle runs msg and returns the reply. Store failures are reported inside the reply.
func (c *Controller) Handle(msg ControlMessage) (ControlResponse, error) {
	switch msg.Type {
	case ControlGet:
		return c.get(msg), nil
	case ControlList:
		return c.list(), nil
	case ControlReset:
		return c.reset(msg), nil
	case ControlDelete:
		return c.delete(msg), nil
	default:
		return ControlResponse{}, fmt.Errorf("%w: %q", ErrUnknownControl, msg.Type)
	}
}

// List returns every session sorted by key.
func (c *Controller) List() (SessionList, error) {
	store, err := c.store.Load()
	if err != nil {
		return SessionList{}, err
	}
	keys := make([]string, 0, len(store))
	for key := range store {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := SessionList{Sessions: make([]SessionInfo, 0, len(keys))}
	for _, key := range keys {
		out.Sessions = append(out.Sessions, infoOf(key, store[key]))
	}
	out.Count = len(out.Sessions)
	return out, nil
}

func (c *Controller) get(msg ControlMessage) ControlResponse {
	key := msg.TargetKey()
	if key == "" {
		return failure(msg.Type, "", "Session key required")
	}
	entry, ok, err := c.store.Get(key)
	if err != nil {
		return failure(msg.Type, key, "Failed to load sessions")
	}
	if !ok {
		return failure(msg.Type, key, "Session not found")
	}
	return ControlResponse{Type: msg.Type, Data: infoOf(key, entry)}
}

func (c *Controller) list() ControlResponse {
	list, err := c.List()
	if err != nil {
		return failure(ControlList, "", "Failed to load sessions")
	}
	return ControlResponse{Type: ControlList, Data: list}
}

func (c *Controller) reset(msg ControlMessage) ControlResponse {
	key := msg.TargetKey()
	if key == "" {
		return failure(msg.Type, "", "Session key required")
	}
	if _, err := c.store.Reset(key); err != nil {
		return failure(msg.Type, key, "Failed to reset session")
	}
	return ControlResponse{Type: msg.Type, Data: ControlResult{Success: true, Key: key}}
}

func (c *Controller) delete(msg ControlMessage) ControlResponse {
	key := msg.TargetKey()
	if key == "" {
		return failure(msg.Type, "", "Session key required")
	}
	if _, err := c.store.Delete(key); err != nil {
		return failure(msg.Type, key, "Failed to delete session")
	}
	return ControlResponse{Type: msg.Type, Data: ControlResult{Success: true, Key: key}}
}

func failure(kind ControlType, key, reason string) ControlResponse {
	return ControlResponse{Type: kind, Data: ControlResult{Key: strings.TrimSpace(key), Error: reason}}
}
