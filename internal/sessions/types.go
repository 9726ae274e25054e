package sessions

import (
	"time"

	"github.com/google/uuid"
)

// SessionEntry is the persisted state for one session key.
type SessionEntry struct {
	SessionID       string           `json:"sessionId"`
	UpdatedAt       int64            `json:"updatedAt"`
	SessionFile     string           `json:"sessionFile,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
	LastChannel     string           `json:"lastChannel,omitempty"`
	LastTo          string           `json:"lastTo,omitempty"`
	LastAccountID   string           `json:"lastAccountId,omitempty"`
	LastThreadID    string           `json:"lastThreadId,omitempty"`

	WebhookMessageID string `json:"webhookMessageId,omitempty"`
	WebhookSessionID string `json:"webhookSessionId,omitempty"`
}

// DeliveryContext is the last known reply route. It is replaced wholesale, never mutated.
type DeliveryContext struct {
	Channel   string `json:"channel,omitempty"`
	To        string `json:"to,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// ChannelWebhook is the delivery channel recorded for every downstream route.
const ChannelWebhook = "webhook"

// DefaultResetTriggers start a fresh session id for the resolved key.
var DefaultResetTriggers = []string{"/new", "/reset"}

// StoreConfig holds store location and timing bounds.
type StoreConfig struct {
	Path        string
	CacheTTL    time.Duration
	LockTimeout time.Duration
}

func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:        path,
		CacheTTL:    45 * time.Second,
		LockTimeout: 10 * time.Second,
	}
}

// NewSessionID returns a globally unique session id.
func NewSessionID() string {
	return "sess_" + uuid.NewString()
}

// withRoute copies ctx into the entry's route fields.
func (e SessionEntry) withRoute(ctx DeliveryContext) SessionEntry {
	snapshot := ctx
	e.DeliveryContext = &snapshot
	e.LastChannel = ctx.Channel
	e.LastTo = ctx.To
	e.LastAccountID = ctx.AccountID
	e.LastThreadID = ctx.ThreadID
	return e
}

func copyEntries(in map[string]SessionEntry) map[string]SessionEntry {
	out := make(map[string]SessionEntry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
