package gateway

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/clawbridge/internal/protocol"
)

// PendingRequest tracks one upstream request awaiting its response frame.
type PendingRequest struct {
	RequestID string
	Method    string
	QueuedAt  time.Time
	Deadline  time.Time

	reply chan protocol.Envelope
}

// pendingTable stores pending requests by request id.
type pendingTable struct {
	mu    sync.RWMutex
	items map[string]PendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[string]PendingRequest),
	}
}

func (p *pendingTable) Register(item PendingRequest) <-chan protocol.Envelope {
	key := strings.TrimSpace(item.RequestID)
	item.reply = make(chan protocol.Envelope, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[key] = item
	return item.reply
}

// Resolve hands env to its waiter and reports whether a waiter existed.
func (p *pendingTable) Resolve(env protocol.Envelope) bool {
	key := strings.TrimSpace(env.ID)
	p.mu.Lock()
	item, ok := p.items[key]
	if ok {
		delete(p.items, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	item.reply <- env
	return true
}

func (p *pendingTable) Remove(requestID string) {
	key := strings.TrimSpace(requestID)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, key)
}

func (p *pendingTable) Get(requestID string) (PendingRequest, bool) {
	key := strings.TrimSpace(requestID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[key]
	return item, ok
}

func (p *pendingTable) List() []PendingRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PendingRequest, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out
}
