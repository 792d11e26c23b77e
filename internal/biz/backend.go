package biz

import (
	"context"

	"MsgBridge/internal/model"
)

// MessageBackend is the narrow contract both message stores satisfy.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementations are in the data layer (CIF file store and GORM store).
type MessageBackend interface {
	// Name returns the stable backend identifier ("cif" or "database").
	Name() string

	// WriteMessage persists one message. Errors surface as-is; the router
	// converts them into boolean outcomes and metrics.
	WriteMessage(ctx context.Context, msg *model.Message) error

	// ReadMessages returns all messages for a deposition, ordered by
	// timestamp.
	ReadMessages(ctx context.Context, depositionID string) ([]model.Message, error)

	// ReadMessage returns a single message by id, or nil when absent.
	ReadMessage(ctx context.Context, messageID string) (*model.Message, error)
}

// CifStore and DbStore give the two backends distinct types so dependency
// injection can tell them apart; both carry the same contract.
type CifStore interface{ MessageBackend }

// DbStore is the relational side of the dual-write pair.
type DbStore interface{ MessageBackend }
