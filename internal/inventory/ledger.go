package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardvault/storefront/internal"
	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	"github.com/cardvault/storefront/internal/observability"
)

// StockShortage describes the line that stopped a batch.
type StockShortage struct {
	CardID    string `json:"card_id"`
	Variant   string `json:"variant"`
	Requested int    `json:"requested"`
}

// Ledger is the only writer of available quantities.
type Ledger struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewLedger(repo RepositoryAPI, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger,
	}
}

// Decrement takes quantity units of one (card, variant) or fails with
// ErrInsufficientStock without changing anything.
func (l *Ledger) Decrement(ctx context.Context, key Key, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, internal.NewValidationError("quantity must be positive", internal.ErrCodeInvalidQuantity)
	}

	available, ok, err := l.repo.Decrement(ctx, key, quantity)
	if err != nil {
		observability.RecordDecrement("error")
		return 0, fmt.Errorf("decrement %s: %w", key, err)
	}
	if !ok {
		observability.RecordDecrement("insufficient")
		l.logger.Info("insufficient stock",
			"card_id", key.CardID,
			"variant", key.Variant,
			"requested", quantity)
		return 0, internal.ErrInsufficientStock.WithDetails(StockShortage{
			CardID:    key.CardID,
			Variant:   string(key.Variant),
			Requested: quantity,
		})
	}

	observability.RecordDecrement("ok")
	return available, nil
}

// DecrementBatch applies every line or none. Lines for the same key are
// merged first. The returned map holds the new availability per key.
func (l *Ledger) DecrementBatch(ctx context.Context, lines []Line) (map[Key]int, error) {
	merged := mergeLines(lines)
	if len(merged) == 0 {
		return nil, internal.NewValidationError("no lines to decrement", internal.ErrCodeInvalidQuantity)
	}

	result := make(map[Key]int, len(merged))
	err := l.repo.WithinTx(ctx, func(tx RepositoryAPI) error {
		txLedger := &Ledger{repo: tx, logger: l.logger}
		for _, line := range merged {
			available, err := txLedger.Decrement(ctx, line.Key, line.Quantity)
			if err != nil {
				return err
			}
			result[line.Key] = available
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("batch decrement committed", "lines", len(merged))
	return result, nil
}

// Restock adds units through the conditional increment so it never loses a
// concurrent decrement.
func (l *Ledger) Restock(ctx context.Context, key Key, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, internal.NewValidationError("quantity must be positive", internal.ErrCodeInvalidQuantity)
	}
	available, ok, err := l.repo.Increment(ctx, key, quantity)
	if err != nil {
		return 0, fmt.Errorf("restock %s: %w", key, err)
	}
	if !ok {
		return 0, internal.ErrInventoryUnitNotFound
	}

	l.logger.Info("unit restocked",
		"card_id", key.CardID,
		"variant", key.Variant,
		"quantity", quantity,
		"available", available)
	return available, nil
}

func (l *Ledger) Get(ctx context.Context, key Key) (*inventoryDatamodel.Unit, error) {
	unit, err := l.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, internal.ErrInventoryUnitNotFound
	}
	return unit, nil
}

// Upsert writes catalog attributes for a unit. It is used by seeding only and
// never while reconciliations run against the same rows.
func (l *Ledger) Upsert(ctx context.Context, unit *inventoryDatamodel.Unit) error {
	if !unit.Variant.Valid() {
		return internal.NewValidationError("unknown variant", internal.ErrCodeInvalidVariant)
	}
	if unit.Available < 0 {
		return internal.NewValidationError("available cannot be negative", internal.ErrCodeInvalidQuantity)
	}
	return l.repo.Upsert(ctx, unit)
}

// IsInsufficientStock reports whether err means a unit could not cover a line.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, internal.ErrInsufficientStock)
}
