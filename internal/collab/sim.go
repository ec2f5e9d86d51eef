package collab

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/models"
)

// SimComplianceEngine passes everything except assets it is told to fail or
// flag. Good enough for the simulated desk; real rule content is external.
type SimComplianceEngine struct {
	FailAssets        map[string]string
	ConditionalAssets map[string]string
}

func (e *SimComplianceEngine) Evaluate(ctx context.Context, order models.Order) (ComplianceResult, error) {
	if err := ctx.Err(); err != nil {
		return ComplianceResult{}, err
	}
	if reason, ok := e.FailAssets[order.AssetID]; ok {
		return ComplianceResult{Verdict: ComplianceVerdictFail, Reason: reason}, nil
	}
	if reason, ok := e.ConditionalAssets[order.AssetID]; ok {
		return ComplianceResult{Verdict: ComplianceVerdictConditional, Reason: reason}, nil
	}
	return ComplianceResult{Verdict: ComplianceVerdictPass, Reason: "no_rule_matched"}, nil
}

// SimPriceOracle derives a deterministic price per asset/region with a slow
// daily drift, so repeated runs and tests see stable values.
type SimPriceOracle struct {
	Base decimal.Decimal

	mu       sync.Mutex
	override map[string]decimal.Decimal
}

func (o *SimPriceOracle) SetPrice(assetID, region string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.override == nil {
		o.override = map[string]decimal.Decimal{}
	}
	o.override[assetID+"/"+region] = price
}

func (o *SimPriceOracle) CurrentPrice(ctx context.Context, assetID, region string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return o.priceAt(assetID, region, time.Now().UTC()), nil
}

func (o *SimPriceOracle) HistoricalPrice(ctx context.Context, assetID, region string, date time.Time) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}
	if date.After(time.Now().UTC()) {
		return decimal.Zero, false, nil
	}
	return o.priceAt(assetID, region, date), true, nil
}

func (o *SimPriceOracle) priceAt(assetID, region string, at time.Time) decimal.Decimal {
	o.mu.Lock()
	if p, ok := o.override[assetID+"/"+region]; ok {
		o.mu.Unlock()
		return p
	}
	o.mu.Unlock()

	base := o.Base
	if base.IsZero() {
		base = decimal.NewFromInt(100)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(assetID + "/" + region)))
	seed := int64(h.Sum32() % 1000)
	day := at.UTC().Truncate(24*time.Hour).Unix() / 86400
	// +/- 5% around base, drifting by day.
	drift := decimal.NewFromInt((seed+day)%100 - 50).Div(decimal.NewFromInt(1000))
	return base.Mul(decimal.NewFromInt(1).Add(drift))
}

// SimShipmentTracker records shipments in memory.
type SimShipmentTracker struct {
	mu        sync.Mutex
	shipments map[string]Shipment
}

func (t *SimShipmentTracker) Create(ctx context.Context, orderID uint64, origin, destination string) (Shipment, error) {
	if err := ctx.Err(); err != nil {
		return Shipment{}, err
	}
	s := Shipment{
		ShipmentID:  uuid.NewString(),
		Origin:      origin,
		Destination: destination,
	}
	t.mu.Lock()
	if t.shipments == nil {
		t.shipments = map[string]Shipment{}
	}
	t.shipments[s.ShipmentID] = s
	t.mu.Unlock()
	return s, nil
}

func (t *SimShipmentTracker) RecordCondition(ctx context.Context, shipmentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.shipments[shipmentID]; !ok {
		return fmt.Errorf("unknown shipment %s", shipmentID)
	}
	return nil
}

// SimStrategyClassifier tags orders by action and confidence band.
type SimStrategyClassifier struct{}

func (SimStrategyClassifier) Classify(ctx context.Context, order models.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	band := "speculative"
	if order.Confidence >= 0.9 {
		band = "conviction"
	} else if order.Confidence >= 0.75 {
		band = "balanced"
	}
	return strings.ToLower(order.Action) + "_" + band, nil
}
