// Package audit records operational actions without ever failing the caller.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/store"
)

// Sink writes audit entries through the store. A write failure is logged and
// swallowed so auditing never breaks the operation being audited.
type Sink struct {
	store store.Store
}

// NewSink wraps a store in a fire-and-forget audit writer.
func NewSink(s store.Store) *Sink {
	return &Sink{store: s}
}

// Record persists one audit entry.
func (s *Sink) Record(ctx context.Context, tenantID *int64, actor, action, message string, metadata map[string]any) {
	entry := model.AuditEntry{
		TenantID: tenantID,
		Actor:    actor,
		Action:   action,
		Message:  message,
		Metadata: metadata,
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		zap.L().Warn("audit write failed",
			zap.String("action", action),
			zap.Error(err))
	}
}
