package domain

import (
	"errors"
	"fmt"
	"strings"
)

// OrderStatus enumerates the lifecycle states of a durable order.
type OrderStatus string

const (
	OrderStatusPlaced            OrderStatus = "PLACED"
	OrderStatusConfirmed         OrderStatus = "CONFIRMED"
	OrderStatusDetailsReceived   OrderStatus = "DETAILS_RECEIVED"
	OrderStatusPreviewReady      OrderStatus = "PREVIEW_READY"
	OrderStatusRevisionRequested OrderStatus = "REVISION_REQUESTED"
	OrderStatusApproved          OrderStatus = "APPROVED"
	OrderStatusInProduction      OrderStatus = "IN_PRODUCTION"
	OrderStatusPacked            OrderStatus = "PACKED"
	OrderStatusDispatched        OrderStatus = "DISPATCHED"
	OrderStatusDelivered         OrderStatus = "DELIVERED"
	OrderStatusCancelled         OrderStatus = "CANCELLED"
	OrderStatusRefunded          OrderStatus = "REFUNDED"
)

var allOrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusConfirmed,
	OrderStatusDetailsReceived,
	OrderStatusPreviewReady,
	OrderStatusRevisionRequested,
	OrderStatusApproved,
	OrderStatusInProduction,
	OrderStatusPacked,
	OrderStatusDispatched,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ErrUnknownOrderStatus is returned when parsing a status string outside the enumeration.
var ErrUnknownOrderStatus = errors.New("order status: unknown value")

// ErrTransitionNotAllowed is returned when the transition table has no entry for a status/action pair.
var ErrTransitionNotAllowed = errors.New("order status: transition not allowed")

// OrderStatuses returns every defined status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(allOrderStatuses))
	copy(out, allOrderStatuses)
	return out
}

// ParseOrderStatus converts a raw value into an OrderStatus, rejecting unknown values.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, status := range allOrderStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrderStatus, raw)
}

// IsTerminal reports whether no further transitions are possible from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// IsPersonalizationLoop reports whether the status belongs to the details/preview/revision sub-flow.
func (s OrderStatus) IsPersonalizationLoop() bool {
	switch s {
	case OrderStatusDetailsReceived, OrderStatusPreviewReady, OrderStatusRevisionRequested:
		return true
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }

// OrderAction enumerates the events that drive order transitions.
type OrderAction string

const (
	OrderActionAccept          OrderAction = "accept"
	OrderActionSubmitDetails   OrderAction = "submit_details"
	OrderActionSubmitPreview   OrderAction = "submit_preview"
	OrderActionApprovePreview  OrderAction = "approve_preview"
	OrderActionRequestRevision OrderAction = "request_revision"
	OrderActionStartProduction OrderAction = "start_production"
	OrderActionPack            OrderAction = "pack"
	OrderActionDispatch        OrderAction = "dispatch"
	OrderActionDeliver         OrderAction = "deliver"
	OrderActionCancel          OrderAction = "cancel"
	OrderActionRefund          OrderAction = "refund"
)

// TransitionContext carries the order attributes that select between branches of the table.
type TransitionContext struct {
	RequiresPersonalization bool
}

type transitionKey struct {
	from   OrderStatus
	action OrderAction
}

// transitionRule resolves the destination for a key; express rules depend on personalization.
type transitionRule func(TransitionContext) (OrderStatus, bool)

func to(status OrderStatus) transitionRule {
	return func(TransitionContext) (OrderStatus, bool) { return status, true }
}

func personalizedOnly(status OrderStatus) transitionRule {
	return func(tc TransitionContext) (OrderStatus, bool) {
		if !tc.RequiresPersonalization {
			return "", false
		}
		return status, true
	}
}

var transitionTable = map[transitionKey]transitionRule{
	{OrderStatusPlaced, OrderActionAccept}: func(tc TransitionContext) (OrderStatus, bool) {
		if tc.RequiresPersonalization {
			return OrderStatusConfirmed, true
		}
		return OrderStatusInProduction, true
	},

	{OrderStatusConfirmed, OrderActionSubmitDetails}:         personalizedOnly(OrderStatusDetailsReceived),
	{OrderStatusDetailsReceived, OrderActionSubmitPreview}:   personalizedOnly(OrderStatusPreviewReady),
	{OrderStatusPreviewReady, OrderActionApprovePreview}:     personalizedOnly(OrderStatusApproved),
	{OrderStatusPreviewReady, OrderActionRequestRevision}:    personalizedOnly(OrderStatusRevisionRequested),
	{OrderStatusRevisionRequested, OrderActionSubmitPreview}: personalizedOnly(OrderStatusPreviewReady),
	{OrderStatusRevisionRequested, OrderActionSubmitDetails}: personalizedOnly(OrderStatusDetailsReceived),
	{OrderStatusApproved, OrderActionStartProduction}:        personalizedOnly(OrderStatusInProduction),

	{OrderStatusInProduction, OrderActionPack}:  to(OrderStatusPacked),
	{OrderStatusPacked, OrderActionDispatch}:    to(OrderStatusDispatched),
	{OrderStatusDispatched, OrderActionDeliver}: to(OrderStatusDelivered),
}

// cancellable lists the states from which an order may still be cancelled. Production has
// not started in any of them.
var cancellable = map[OrderStatus]struct{}{
	OrderStatusPlaced:            {},
	OrderStatusConfirmed:         {},
	OrderStatusDetailsReceived:   {},
	OrderStatusPreviewReady:      {},
	OrderStatusRevisionRequested: {},
	OrderStatusApproved:          {},
}

func init() {
	for status := range cancellable {
		transitionTable[transitionKey{status, OrderActionCancel}] = to(OrderStatusCancelled)
	}
	for _, status := range allOrderStatuses {
		if status.IsTerminal() {
			continue
		}
		transitionTable[transitionKey{status, OrderActionRefund}] = to(OrderStatusRefunded)
	}
}

// NextStatus resolves the destination status for the action or returns ErrTransitionNotAllowed.
func NextStatus(current OrderStatus, action OrderAction, tc TransitionContext) (OrderStatus, error) {
	rule, ok := transitionTable[transitionKey{current, action}]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrTransitionNotAllowed, action, current)
	}
	next, ok := rule(tc)
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrTransitionNotAllowed, action, current)
	}
	return next, nil
}

// CanTransition reports whether the action is legal from the current status.
func CanTransition(current OrderStatus, action OrderAction, tc TransitionContext) bool {
	_, err := NextStatus(current, action, tc)
	return err == nil
}

// AllowedActions lists the actions accepted from the status, sorted by declaration order.
func AllowedActions(current OrderStatus, tc TransitionContext) []OrderAction {
	actions := []OrderAction{
		OrderActionAccept,
		OrderActionSubmitDetails,
		OrderActionSubmitPreview,
		OrderActionApprovePreview,
		OrderActionRequestRevision,
		OrderActionStartProduction,
		OrderActionPack,
		OrderActionDispatch,
		OrderActionDeliver,
		OrderActionCancel,
		OrderActionRefund,
	}
	out := make([]OrderAction, 0, len(actions))
	for _, action := range actions {
		if CanTransition(current, action, tc) {
			out = append(out, action)
		}
	}
	return out
}

// LineStatusFor maps an order status onto the per-line fulfilment status, if the line mirrors it.
func LineStatusFor(status OrderStatus) (OrderStatus, bool) {
	switch status {
	case OrderStatusInProduction, OrderStatusPacked, OrderStatusDispatched, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusRefunded:
		return status, true
	}
	return "", false
}
