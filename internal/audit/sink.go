// Package audit writes the append-only event log. Events are committed with
// the state change they describe and are never mutated afterwards.
package audit

import (
	"encoding/json"

	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

type Sink struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type Event struct {
	Kind    string
	OwnerID string
	OrderID *uint64
	Before  any
	After   any
	Detail  string
}

// AppendTx writes the event inside the caller's transaction so a failed audit
// write rolls the whole transition back.
func (s *Sink) AppendTx(ctx context.Context, tx *gorm.DB, ev Event) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	item := &models.AuditEvent{
		EventID: uuid.NewString(),
		OwnerID: ev.OwnerID,
		OrderID: ev.OrderID,
		Kind:    ev.Kind,
	}
	if ev.Before != nil {
		raw, err := json.Marshal(ev.Before)
		if err != nil {
			return err
		}
		item.StateBefore = datatypes.JSON(raw)
	}
	if ev.After != nil {
		raw, err := json.Marshal(ev.After)
		if err != nil {
			return err
		}
		item.StateAfter = datatypes.JSON(raw)
	}
	if ev.Detail != "" {
		detail := ev.Detail
		item.Detail = &detail
	}
	return s.Repo.InsertAuditEventTx(ctx, tx, item)
}

// Append commits the event in its own transaction, for call sites that have
// no enclosing unit of work.
func (s *Sink) Append(ctx context.Context, ev Event) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.AppendTx(ctx, tx, ev)
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("audit append failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
	return err
}
