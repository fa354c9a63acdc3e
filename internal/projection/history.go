package projection

import (
	"sync"

	"github.com/google/uuid"

	"github.com/AkintolaX/sureinv-financing/internal/event"
)

// HistoryEntry is one lifecycle step of an invoice
type HistoryEntry struct {
	Sequence  int64                  `json:"sequence"`
	InvoiceID uint64                 `json:"invoice_id"`
	Type      event.NotificationType `json:"type"`
	Actor     uuid.UUID              `json:"actor"`
	Amount    int64                  `json:"amount"`
	Timestamp int64                  `json:"timestamp"`
}

// NewHistoryEntry extracts the amount that matters for each notification type.
func NewHistoryEntry(n event.Notification) HistoryEntry {
	amount := n.Amount
	switch n.Type {
	case event.NotificationInvoiceCreated, event.NotificationInvoiceFunded:
		amount = n.Principal
	case event.NotificationInsuranceClaimed:
		amount = n.Payout
	}
	return HistoryEntry{
		Sequence:  n.Sequence,
		InvoiceID: n.InvoiceID,
		Type:      n.Type,
		Actor:     n.Actor,
		Amount:    amount,
		Timestamp: n.Timestamp,
	}
}

// HistoryProjection keeps per-invoice history in memory for the read API.
// The Postgres invoice_history table is the durable copy.
type HistoryProjection struct {
	mu        sync.RWMutex
	byInvoice map[uint64][]HistoryEntry
	byActor   map[uuid.UUID][]HistoryEntry
}

func NewHistoryProjection() *HistoryProjection {
	return &HistoryProjection{
		byInvoice: make(map[uint64][]HistoryEntry),
		byActor:   make(map[uuid.UUID][]HistoryEntry),
	}
}

// AddEntry records a lifecycle step. Entries with no invoice are indexed by actor only.
func (p *HistoryProjection) AddEntry(entry HistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry.InvoiceID != 0 {
		p.byInvoice[entry.InvoiceID] = append(p.byInvoice[entry.InvoiceID], entry)
	}
	p.byActor[entry.Actor] = append(p.byActor[entry.Actor], entry)
}

// QueryByInvoice returns an invoice's history oldest first
func (p *HistoryProjection) QueryByInvoice(invoiceID uint64) []HistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := p.byInvoice[invoiceID]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// QueryByActor returns the most recent entries for an actor, newest first
func (p *HistoryProjection) QueryByActor(actor uuid.UUID, limit int) []HistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := p.byActor[actor]
	result := make([]HistoryEntry, 0)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result
}
