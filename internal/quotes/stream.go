// Package quotes ingests ticks from the external quote feed and serves prices
// back out through a store-backed oracle.
package quotes

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradedesk/internal/client/quotefeed"
	"tradedesk/internal/config"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/settings"
)

var ErrNoQuote = errors.New("no quote available")

// Ingestor writes every valid tick as the asset's latest quote. One row per
// asset and region; the feed is the writer, the oracle is the reader.
type Ingestor struct {
	Repo     repository.Repository
	Settings *settings.Service
	Logger   *zap.Logger
	Config   config.QuoteFeedConfig
}

// Run connects the stream and blocks until the context ends. Skipped entirely
// when the feature switch is off at startup.
func (i *Ingestor) Run(ctx context.Context) error {
	if i == nil || i.Repo == nil {
		return nil
	}
	if i.Settings != nil && !i.Settings.IsEnabled(ctx, settings.FeatureQuoteFeed, false) {
		if i.Logger != nil {
			i.Logger.Info("quote feed disabled, not starting")
		}
		return nil
	}
	stream := quotefeed.NewStream(quotefeed.StreamOptions{
		URL:             i.Config.URL,
		AssetIDProvider: i.activeAssetIDs,
		RefreshInterval: i.Config.RefreshInterval,
		Logger:          i.Logger,
	})
	return stream.Run(ctx, i.HandleTick)
}

// HandleTick upserts one quote. Ticks without an asset id or with an
// unparseable price are dropped.
func (i *Ingestor) HandleTick(tick quotefeed.Tick, _ []byte) {
	if i == nil || i.Repo == nil || tick.AssetID == "" {
		return
	}
	price, err := decimal.NewFromString(tick.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	quotedAt := time.Now().UTC()
	if tick.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, tick.Timestamp); err == nil {
			quotedAt = ts.UTC()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	item := &models.AssetQuote{
		AssetID:  tick.AssetID,
		Region:   tick.Region,
		Price:    price,
		QuotedAt: quotedAt,
	}
	if err := i.Repo.UpsertAssetQuote(ctx, item); err != nil && i.Logger != nil {
		i.Logger.Warn("quote upsert failed",
			zap.String("asset_id", tick.AssetID),
			zap.Error(err),
		)
	}
}

// activeAssetIDs is the subscription set: assets of orders that are approved
// or executed, since those are the ones the saga and the realizer will price.
func (i *Ingestor) activeAssetIDs(ctx context.Context) ([]string, error) {
	max := i.Config.MaxAssets
	if max <= 0 {
		max = 200
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, status := range []string{models.OrderStatusApproved, models.OrderStatusExecuted} {
		st := status
		orders, err := i.Repo.ListOrders(ctx, repository.ListOrdersParams{
			Limit:  max,
			Status: &st,
		})
		if err != nil {
			return nil, err
		}
		for _, order := range orders {
			if _, ok := seen[order.AssetID]; ok {
				continue
			}
			seen[order.AssetID] = struct{}{}
			out = append(out, order.AssetID)
			if len(out) >= max {
				return out, nil
			}
		}
	}
	return out, nil
}

// StoreOracle serves prices from ingested quotes, deferring to a fallback
// oracle when the store has no quote for the asset.
type StoreOracle struct {
	Repo     repository.Repository
	Fallback interface {
		CurrentPrice(ctx context.Context, assetID, region string) (decimal.Decimal, error)
		HistoricalPrice(ctx context.Context, assetID, region string, date time.Time) (decimal.Decimal, bool, error)
	}
	// MaxAge bounds quote staleness; older quotes fall through to the fallback.
	MaxAge time.Duration
}

func (o *StoreOracle) CurrentPrice(ctx context.Context, assetID, region string) (decimal.Decimal, error) {
	if o != nil && o.Repo != nil {
		quote, err := o.Repo.GetLatestAssetQuote(ctx, assetID, region)
		if err == nil && quote != nil {
			if o.MaxAge <= 0 || time.Since(quote.QuotedAt) <= o.MaxAge {
				return quote.Price, nil
			}
		}
	}
	if o != nil && o.Fallback != nil {
		return o.Fallback.CurrentPrice(ctx, assetID, region)
	}
	return decimal.Zero, ErrNoQuote
}

func (o *StoreOracle) HistoricalPrice(ctx context.Context, assetID, region string, date time.Time) (decimal.Decimal, bool, error) {
	if o != nil && o.Fallback != nil {
		return o.Fallback.HistoricalPrice(ctx, assetID, region, date)
	}
	return decimal.Zero, false, nil
}
