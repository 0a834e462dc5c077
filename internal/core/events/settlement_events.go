package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderCreated         = "order.created"
	EventTypeOrderPaid            = "order.paid"
	EventTypeOrderExpired         = "order.expired"
	EventTypeOrderNotifyFailed    = "order.notify_failed"
	EventTypeUnattributedTransfer = "order.unattributed"
)

// SettlementTypes lists every order lifecycle event.
var SettlementTypes = []string{
	EventTypeOrderCreated,
	EventTypeOrderPaid,
	EventTypeOrderExpired,
	EventTypeOrderNotifyFailed,
	EventTypeUnattributedTransfer,
}

// OrderSnapshot is the order view carried by settlement events.
type OrderSnapshot struct {
	OrderID         string `json:"order_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	PaymentType     int    `json:"payment_type"`
	PriceCents      int64  `json:"price_cents"`
	SlotCents       int64  `json:"slot_cents"`
	State           int    `json:"state"`
}

type SettlementEvent struct {
	BaseEvent
	Order OrderSnapshot `json:"order"`
}

func NewSettlementEvent(eventType string, order OrderSnapshot) *SettlementEvent {
	return &SettlementEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":          order.OrderID,
				"merchant_order_id": order.MerchantOrderID,
				"payment_type":      order.PaymentType,
				"price_cents":       order.PriceCents,
				"slot_cents":        order.SlotCents,
				"state":             order.State,
			},
		},
		Order: order,
	}
}

// PartitionKey groups all events of one order on the same partition.
func (e *SettlementEvent) PartitionKey() string {
	return e.Order.OrderID
}
