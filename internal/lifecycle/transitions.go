package lifecycle

import (
	"fmt"

	"tradedesk/internal/models"
)

type Operation string

const (
	OpApprove      Operation = "approve"
	OpReject       Operation = "reject"
	OpMarkExecuted Operation = "mark_executed"
	OpCancel       Operation = "cancel"
)

// transitionTable is the single source of truth for the order state machine.
// Statuses only move forward; EXECUTED, REJECTED and CANCELLED are terminal.
var transitionTable = map[Operation]struct {
	from []string
	to   string
}{
	OpApprove:      {from: []string{models.OrderStatusPendingApproval}, to: models.OrderStatusApproved},
	OpReject:       {from: []string{models.OrderStatusPendingApproval, models.OrderStatusApproved}, to: models.OrderStatusRejected},
	OpMarkExecuted: {from: []string{models.OrderStatusApproved}, to: models.OrderStatusExecuted},
	OpCancel:       {from: []string{models.OrderStatusPendingApproval, models.OrderStatusApproved}, to: models.OrderStatusCancelled},
}

// InvalidTransitionError names the current and requested status so callers and
// automation can act on it without parsing free text.
type InvalidTransitionError struct {
	OrderID   uint64
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: order %d is %s, requested %s", e.OrderID, e.Current, e.Requested)
}

func checkTransition(op Operation, order *models.Order) (string, error) {
	rule, ok := transitionTable[op]
	if !ok {
		return "", fmt.Errorf("unknown operation %q", op)
	}
	for _, from := range rule.from {
		if order.Status == from {
			return rule.to, nil
		}
	}
	return "", &InvalidTransitionError{
		OrderID:   order.ID,
		Current:   order.Status,
		Requested: rule.to,
	}
}
