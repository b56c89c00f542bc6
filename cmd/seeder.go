package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	"github.com/cardvault/storefront/internal/pricing"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample inventory",
	Long:  `Store the default price parameter set and load a sample catalog of card variants.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		lg := setupLogger(cfg)

		p, err := buildPipeline(cfg, lg)
		if err != nil {
			log.Fatalf("failed to init pipeline: %v", err)
		}
		defer p.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if clearData {
			for _, table := range []string{"order_items", "orders", "reconciliation_audit", "reconciliation_records", "inventory_units"} {
				if _, err := p.DB.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared orders, reconciliations and inventory")
		}

		params, err := p.Pricing.ResolveParams(ctx, "", pricing.Overrides{})
		if err != nil {
			log.Fatalf("failed to resolve default price parameters: %v", err)
		}
		setName := cfg.Pricing.DefaultSet
		if setName == "" {
			setName = "default"
		}
		if err := p.Pricing.SaveParams(ctx, setName, params); err != nil {
			log.Fatalf("failed to store price parameters: %v", err)
		}
		fmt.Println("Stored price parameter set:", setName)

		catalog := []struct {
			CardID    string
			Variant   inventoryDatamodel.Variant
			Available int
			MarketUSD float64
		}{
			{"tfc-001", inventoryDatamodel.VariantNormal, 12, 0.35},
			{"tfc-001", inventoryDatamodel.VariantFoil, 3, 2.10},
			{"tfc-014", inventoryDatamodel.VariantNormal, 8, 1.25},
			{"tfc-014", inventoryDatamodel.VariantFoil, 1, 7.80},
			{"tfc-027", inventoryDatamodel.VariantNormal, 20, 0.10},
			{"tfc-027", inventoryDatamodel.VariantFoil, 0, 0.95},
			{"tfc-102", inventoryDatamodel.VariantNormal, 4, 12.50},
			{"tfc-102", inventoryDatamodel.VariantFoil, 1, 48.00},
		}

		for _, c := range catalog {
			listed, err := p.Pricing.ListedPrice(ctx, c.MarketUSD)
			if err != nil {
				log.Fatalf("failed to price %s:%s: %v", c.CardID, c.Variant, err)
			}
			unit := &inventoryDatamodel.Unit{
				CardID:         c.CardID,
				Variant:        c.Variant,
				Available:      c.Available,
				MarketPriceUSD: c.MarketUSD,
				ListedPrice:    listed,
				UpdatedAt:      time.Now(),
			}
			if err := p.Ledger.Upsert(ctx, unit); err != nil {
				log.Fatalf("failed to seed %s:%s: %v", c.CardID, c.Variant, err)
			}
		}

		fmt.Printf("Seeded %d inventory units\n", len(catalog))
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
}
