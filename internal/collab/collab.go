// Package collab declares the external collaborators the orchestrator
// consumes. Their content is out of scope here; the orchestrator only depends
// on these interfaces and bounds every call with a context timeout.
package collab

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/internal/models"
)

const (
	ComplianceVerdictPass        = "PASS"
	ComplianceVerdictConditional = "CONDITIONAL"
	ComplianceVerdictFail        = "FAIL"
)

type ComplianceResult struct {
	Verdict string
	Reason  string
}

type ComplianceEngine interface {
	Evaluate(ctx context.Context, order models.Order) (ComplianceResult, error)
}

type PriceOracle interface {
	CurrentPrice(ctx context.Context, assetID, region string) (decimal.Decimal, error)
	// HistoricalPrice returns ok=false when no price is known for the date.
	HistoricalPrice(ctx context.Context, assetID, region string, date time.Time) (decimal.Decimal, bool, error)
}

type Shipment struct {
	ShipmentID  string
	Origin      string
	Destination string
}

type ShipmentTracker interface {
	Create(ctx context.Context, orderID uint64, origin, destination string) (Shipment, error)
	RecordCondition(ctx context.Context, shipmentID string) error
}

type StrategyClassifier interface {
	Classify(ctx context.Context, order models.Order) (string, error)
}
