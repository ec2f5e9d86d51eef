package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"tradedesk/internal/collab"
	"tradedesk/internal/models"
)

// StepName is a closed set; the per-action tables below are the only place
// steps are ordered, and the executor dispatches through the registry rather
// than branching on strings.
type StepName string

const (
	StepCapitalLockConfirmation StepName = "capital_lock_confirmation"
	StepBuyConfirmation         StepName = "buy_confirmation"
	StepStorageAssignment       StepName = "storage_assignment"
	StepInsuranceBinding        StepName = "insurance_binding"
	StepShippingBooking         StepName = "shipping_booking"
	StepCustomsDocumentation    StepName = "customs_documentation"
	StepDeliveryConfirmation    StepName = "delivery_confirmation"
	StepSaleExecution           StepName = "sale_execution"
	StepCapitalRelease          StepName = "capital_release"
)

const (
	CompensationReleaseCapital = "release_capital"
	CompensationReverseStep    = "reverse_step"
)

// StepContext carries what a handler may touch: the order, the collaborators,
// and the payloads of previously succeeded steps (keyed by step name).
type StepContext struct {
	Order        models.Order
	PriorResults map[StepName]map[string]any

	Tracker collab.ShipmentTracker
	Oracle  collab.PriceOracle

	// ReleaseCapital frees the order's capital lock at most once; wired by the
	// executor so handlers stay free of repository plumbing.
	ReleaseCapital func(ctx context.Context) (bool, error)
}

type Handler interface {
	Name() StepName
	// CompensationType names the counteraction recorded when this step fails.
	CompensationType() string
	Execute(ctx context.Context, sc *StepContext) (map[string]any, error)
}

func buySteps() []Handler {
	return []Handler{
		capitalLockConfirmation{},
		buyConfirmation{},
		storageAssignment{},
		insuranceBinding{},
		shippingBooking{},
		customsDocumentation{},
		deliveryConfirmation{},
	}
}

func sellSteps() []Handler {
	return []Handler{
		saleExecution{},
		capitalRelease{},
	}
}

// HandlersForAction returns the canonical ordered step set: 7 for BUY, 2 for
// SELL, none for HOLD.
func HandlersForAction(action string) []Handler {
	switch action {
	case models.ActionBuy:
		return buySteps()
	case models.ActionSell:
		return sellSteps()
	default:
		return nil
	}
}

func handlerByName(action string, name StepName) (Handler, error) {
	for _, h := range HandlersForAction(action) {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no handler for step %q under action %q", name, action)
}

// --- BUY --------------------------------------------------------------------

type capitalLockConfirmation struct{}

func (capitalLockConfirmation) Name() StepName           { return StepCapitalLockConfirmation }
func (capitalLockConfirmation) CompensationType() string { return CompensationReleaseCapital }
func (capitalLockConfirmation) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return map[string]any{
		"amount": sc.Order.Value().String(),
	}, nil
}

type buyConfirmation struct{}

func (buyConfirmation) Name() StepName           { return StepBuyConfirmation }
func (buyConfirmation) CompensationType() string { return CompensationReleaseCapital }
func (buyConfirmation) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if sc.Oracle == nil {
		return nil, fmt.Errorf("price oracle unavailable")
	}
	price, err := sc.Oracle.CurrentPrice(ctx, sc.Order.AssetID, sc.Order.Region)
	if err != nil {
		return nil, fmt.Errorf("confirm buy price: %w", err)
	}
	return map[string]any{
		"fill_price": price.String(),
		"quantity":   sc.Order.Quantity.String(),
	}, nil
}

type storageAssignment struct{}

func (storageAssignment) Name() StepName           { return StepStorageAssignment }
func (storageAssignment) CompensationType() string { return CompensationReverseStep }
func (storageAssignment) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return map[string]any{
		"facility": "vault-" + sc.Order.Region,
	}, nil
}

type insuranceBinding struct{}

func (insuranceBinding) Name() StepName           { return StepInsuranceBinding }
func (insuranceBinding) CompensationType() string { return CompensationReverseStep }
func (insuranceBinding) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Flat 0.5% of order value for the simulated policy.
	premium := sc.Order.Value().Div(decimal.NewFromInt(200))
	return map[string]any{
		"premium": premium.String(),
	}, nil
}

type shippingBooking struct{}

func (shippingBooking) Name() StepName           { return StepShippingBooking }
func (shippingBooking) CompensationType() string { return CompensationReverseStep }
func (shippingBooking) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if sc.Tracker == nil {
		return nil, fmt.Errorf("shipment tracker unavailable")
	}
	shipment, err := sc.Tracker.Create(ctx, sc.Order.ID, sc.Order.Region, "owner:"+sc.Order.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("book shipment: %w", err)
	}
	return map[string]any{
		"shipment_id": shipment.ShipmentID,
		"origin":      shipment.Origin,
		"destination": shipment.Destination,
	}, nil
}

type customsDocumentation struct{}

func (customsDocumentation) Name() StepName           { return StepCustomsDocumentation }
func (customsDocumentation) CompensationType() string { return CompensationReverseStep }
func (customsDocumentation) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	shipmentID := priorString(sc, StepShippingBooking, "shipment_id")
	if shipmentID == "" {
		return nil, fmt.Errorf("shipping booking result missing shipment_id")
	}
	if sc.Tracker != nil {
		if err := sc.Tracker.RecordCondition(ctx, shipmentID); err != nil {
			return nil, fmt.Errorf("record shipment condition: %w", err)
		}
	}
	return map[string]any{
		"shipment_id": shipmentID,
		"documents":   []string{"export_declaration", "certificate_of_origin"},
	}, nil
}

type deliveryConfirmation struct{}

func (deliveryConfirmation) Name() StepName           { return StepDeliveryConfirmation }
func (deliveryConfirmation) CompensationType() string { return CompensationReverseStep }
func (deliveryConfirmation) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	shipmentID := priorString(sc, StepShippingBooking, "shipment_id")
	if shipmentID == "" {
		return nil, fmt.Errorf("shipping booking result missing shipment_id")
	}
	return map[string]any{
		"shipment_id": shipmentID,
		"delivered":   true,
	}, nil
}

// --- SELL -------------------------------------------------------------------

type saleExecution struct{}

func (saleExecution) Name() StepName           { return StepSaleExecution }
func (saleExecution) CompensationType() string { return CompensationReverseStep }
func (saleExecution) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if sc.Oracle == nil {
		return nil, fmt.Errorf("price oracle unavailable")
	}
	price, err := sc.Oracle.CurrentPrice(ctx, sc.Order.AssetID, sc.Order.Region)
	if err != nil {
		return nil, fmt.Errorf("fetch sale price: %w", err)
	}
	return map[string]any{
		"sale_price": price.String(),
		"proceeds":   price.Mul(sc.Order.Quantity).String(),
	}, nil
}

type capitalRelease struct{}

func (capitalRelease) Name() StepName           { return StepCapitalRelease }
func (capitalRelease) CompensationType() string { return CompensationReverseStep }
func (capitalRelease) Execute(ctx context.Context, sc *StepContext) (map[string]any, error) {
	if sc.ReleaseCapital == nil {
		return nil, fmt.Errorf("capital release unavailable")
	}
	released, err := sc.ReleaseCapital(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"released": released,
	}, nil
}

// --- helpers ----------------------------------------------------------------

func priorString(sc *StepContext, step StepName, key string) string {
	if sc == nil || sc.PriorResults == nil {
		return ""
	}
	result, ok := sc.PriorResults[step]
	if !ok {
		return ""
	}
	if v, ok := result[key].(string); ok {
		return v
	}
	return ""
}

func decodeResult(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
