// Outbox queue for out-of-band notifications awaiting transport pickup
package server

import (
	"sync"

	"github.com/mechdocs/docgate/pkg/auth"
)

// Notification is one queued outbound message. Approval requests carry
// the request payload so the transport can render approve/deny actions.
type Notification struct {
	Kind     string                `json:"kind"` // "text" or "approval"
	Text     string                `json:"text,omitempty"`
	Approval *auth.ApprovalRequest `json:"approval,omitempty"`
}

// Outbox implements auth.Notifier by queuing notifications per
// recipient until the transport drains them. Queues are bounded; when
// full the oldest entry is dropped, since a transport that far behind
// has no use for stale notices.
type Outbox struct {
	limit int

	mu     sync.Mutex
	queues map[int64][]Notification
}

// NewOutbox creates an outbox holding up to limit notifications per
// recipient.
func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = 100
	}
	return &Outbox{limit: limit, queues: make(map[int64][]Notification)}
}

// SendText queues a plain text notification for userID.
func (o *Outbox) SendText(userID int64, text string) error {
	o.push(userID, Notification{Kind: "text", Text: text})
	return nil
}

// SendApproval queues an access request for adminID.
func (o *Outbox) SendApproval(adminID int64, req auth.ApprovalRequest) error {
	o.push(adminID, Notification{Kind: "approval", Approval: &req})
	return nil
}

// Drain removes and returns everything queued for userID.
func (o *Outbox) Drain(userID int64) []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	queued := o.queues[userID]
	delete(o.queues, userID)
	return queued
}

func (o *Outbox) push(userID int64, n Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[userID]
	if len(q) >= o.limit {
		q = q[1:]
	}
	o.queues[userID] = append(q, n)
}

var _ auth.Notifier = (*Outbox)(nil)
