package inventory_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cardvault/storefront/internal"
	inventoryDatamodel "github.com/cardvault/storefront/internal/core/datamodel/inventory"
	"github.com/cardvault/storefront/internal/inventory"
	"github.com/cardvault/storefront/internal/inventory/postgres"
)

var _ = Describe("Ledger", func() {
	var (
		ledger *inventory.Ledger
		ctx    context.Context
		normal = inventory.Key{CardID: "tfc-1", Variant: inventoryDatamodel.VariantNormal}
		foil   = inventory.Key{CardID: "tfc-1", Variant: inventoryDatamodel.VariantFoil}
	)

	seed := func(key inventory.Key, available int) {
		Expect(ledger.Upsert(ctx, &inventoryDatamodel.Unit{
			CardID:      key.CardID,
			Variant:     key.Variant,
			Available:   available,
			ListedPrice: 1000,
		})).To(Succeed())
	}

	availableOf := func(key inventory.Key) int {
		unit, err := ledger.Get(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		return unit.Available
	}

	BeforeEach(func() {
		ctx = context.Background()
		ledger = inventory.NewLedger(postgres.NewInventoryRepository(newTestDB()), testLogger)
	})

	Describe("Decrement", func() {
		It("returns the new availability", func() {
			// Given
			seed(normal, 5)

			// When
			left, err := ledger.Decrement(ctx, normal, 2)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(left).To(Equal(3))
			Expect(availableOf(normal)).To(Equal(3))
		})

		It("fails without touching the row when stock is short", func() {
			seed(normal, 1)

			_, err := ledger.Decrement(ctx, normal, 2)

			Expect(errors.Is(err, internal.ErrInsufficientStock)).To(BeTrue())
			Expect(availableOf(normal)).To(Equal(1))
		})

		It("keeps variants independent", func() {
			seed(normal, 1)
			seed(foil, 0)

			_, err := ledger.Decrement(ctx, foil, 1)
			Expect(inventory.IsInsufficientStock(err)).To(BeTrue())
			Expect(availableOf(normal)).To(Equal(1))
		})

		It("never oversells under concurrent decrements", func() {
			// Given
			const k = 5
			seed(normal, k)

			// When
			var (
				wg           sync.WaitGroup
				mu           sync.Mutex
				successes    int
				insufficient int
			)
			for i := 0; i < k+1; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := ledger.Decrement(ctx, normal, 1)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
					} else {
						Expect(inventory.IsInsufficientStock(err)).To(BeTrue())
						insufficient++
					}
				}()
			}
			wg.Wait()

			// Then
			Expect(successes).To(Equal(k))
			Expect(insufficient).To(Equal(1))
			Expect(availableOf(normal)).To(Equal(0))
		})

		It("rejects non-positive quantities", func() {
			seed(normal, 5)
			_, err := ledger.Decrement(ctx, normal, 0)
			Expect(internal.CodeOf(err)).To(Equal(internal.ErrCodeInvalidQuantity))
		})
	})

	Describe("DecrementBatch", func() {
		It("rolls back earlier lines when a later one is short", func() {
			// Given
			seed(normal, 5)
			seed(foil, 2)

			// When
			_, err := ledger.DecrementBatch(ctx, []inventory.Line{
				{Key: normal, Quantity: 1},
				{Key: foil, Quantity: 3},
			})

			// Then
			Expect(errors.Is(err, internal.ErrInsufficientStock)).To(BeTrue())
			Expect(availableOf(normal)).To(Equal(5))
			Expect(availableOf(foil)).To(Equal(2))
		})

		It("merges repeated keys before checking stock", func() {
			seed(normal, 3)

			_, err := ledger.DecrementBatch(ctx, []inventory.Line{
				{Key: normal, Quantity: 2},
				{Key: normal, Quantity: 2},
			})

			Expect(inventory.IsInsufficientStock(err)).To(BeTrue())
			Expect(availableOf(normal)).To(Equal(3))
		})

		It("commits every line together", func() {
			seed(normal, 5)
			seed(foil, 2)

			result, err := ledger.DecrementBatch(ctx, []inventory.Line{
				{Key: normal, Quantity: 2},
				{Key: foil, Quantity: 2},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(HaveKeyWithValue(normal, 3))
			Expect(result).To(HaveKeyWithValue(foil, 0))
		})

		It("treats an unknown unit as a shortage", func() {
			_, err := ledger.DecrementBatch(ctx, []inventory.Line{{Key: normal, Quantity: 1}})
			Expect(inventory.IsInsufficientStock(err)).To(BeTrue())
		})
	})

	Describe("Restock", func() {
		It("adds to the current availability", func() {
			seed(normal, 1)
			left, err := ledger.Restock(ctx, normal, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(left).To(Equal(5))
		})

		It("does not create units", func() {
			_, err := ledger.Restock(ctx, normal, 4)
			Expect(errors.Is(err, internal.ErrInventoryUnitNotFound)).To(BeTrue())
		})

		It("does not lose updates racing with decrements", func() {
			seed(normal, 10)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := ledger.Decrement(ctx, normal, 1)
					Expect(err).NotTo(HaveOccurred())
				}()
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := ledger.Restock(ctx, normal, 1)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(availableOf(normal)).To(Equal(10))
		})
	})
})

var _ = Describe("ParseProductID", func() {
	DescribeTable("splits card and variant",
		func(productID, card string, variant inventoryDatamodel.Variant) {
			key := inventory.ParseProductID(productID)
			Expect(key.CardID).To(Equal(card))
			Expect(key.Variant).To(Equal(variant))
		},
		Entry("plain id", "tfc-1", "tfc-1", inventoryDatamodel.VariantNormal),
		Entry("foil suffix", "tfc-1:foil", "tfc-1", inventoryDatamodel.VariantFoil),
		Entry("upper case suffix", "tfc-1:FOIL", "tfc-1", inventoryDatamodel.VariantFoil),
		Entry("unknown suffix stays in the id", "set:tfc-1", "set:tfc-1", inventoryDatamodel.VariantNormal),
		Entry("nested id with variant", "set:tfc-1:normal", "set:tfc-1", inventoryDatamodel.VariantNormal),
	)
})
