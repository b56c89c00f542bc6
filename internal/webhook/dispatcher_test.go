package webhook_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cardvault/storefront/internal/webhook"
)

var _ = Describe("Dispatcher", func() {
	var (
		reconciler *fakeReconciler
		ctx        context.Context
	)

	BeforeEach(func() {
		reconciler = &fakeReconciler{}
		ctx = context.Background()
	})

	It("reconciles inline when no workers are configured", func() {
		// Given
		d := webhook.NewDispatcher(reconciler, webhook.DispatcherConfig{Workers: 0, AckTimeout: time.Second}, testLogger)
		d.Start()

		// When
		mode := d.Submit(ctx, "pay_1")

		// Then
		Expect(mode).To(Equal(webhook.ModeInline))
		Expect(reconciler.reconciled()).To(Equal([]string{"pay_1"}))
		Expect(d.Shutdown(ctx)).To(Succeed())
	})

	It("drains every queued notification on shutdown", func() {
		// Given
		d := webhook.NewDispatcher(reconciler, webhook.DispatcherConfig{Workers: 3, QueueSize: 20}, testLogger)
		d.Start()

		// When
		expected := make([]string, 0, 10)
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("pay_%d", i)
			expected = append(expected, id)
			Expect(d.Submit(ctx, id)).To(Equal(webhook.ModeQueued))
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		Expect(d.Shutdown(shutdownCtx)).To(Succeed())

		// Then
		Expect(reconciler.reconciled()).To(ConsistOf(expected))
	})

	It("falls back to inline processing when the queue is full", func() {
		// Given workers that have not started yet, so the queue cannot drain
		d := webhook.NewDispatcher(reconciler, webhook.DispatcherConfig{Workers: 1, QueueSize: 1}, testLogger)

		// When
		first := d.Submit(ctx, "pay_queued")
		second := d.Submit(ctx, "pay_overflow")

		// Then
		Expect(first).To(Equal(webhook.ModeQueued))
		Expect(second).To(Equal(webhook.ModeInline))
		Expect(reconciler.reconciled()).To(Equal([]string{"pay_overflow"}))

		d.Start()
		Expect(d.Shutdown(ctx)).To(Succeed())
		Expect(reconciler.reconciled()).To(ConsistOf("pay_overflow", "pay_queued"))
	})

	It("keeps its accounting straight under concurrent submits", func() {
		const (
			rounds       = 200
			submitters   = 5
			perSubmitter = 10
		)
		for round := 0; round < rounds; round++ {
			// Given
			reconciler := &fakeReconciler{}
			d := webhook.NewDispatcher(reconciler, webhook.DispatcherConfig{Workers: 4, QueueSize: 8, AckTimeout: time.Second}, testLogger)
			d.Start()

			// When
			var wg sync.WaitGroup
			for s := 0; s < submitters; s++ {
				wg.Add(1)
				go func(s int) {
					defer GinkgoRecover()
					defer wg.Done()
					for i := 0; i < perSubmitter; i++ {
						d.Submit(ctx, fmt.Sprintf("pay_%d_%d", s, i))
					}
				}(s)
			}
			wg.Wait()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := d.Shutdown(shutdownCtx)
			cancel()

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(reconciler.reconciled()).To(HaveLen(submitters * perSubmitter))
		}
	})

	It("still reconciles notifications that arrive after shutdown", func() {
		d := webhook.NewDispatcher(reconciler, webhook.DispatcherConfig{Workers: 2}, testLogger)
		d.Start()
		Expect(d.Shutdown(ctx)).To(Succeed())

		Expect(d.Submit(ctx, "pay_late")).To(Equal(webhook.ModeInline))
		Expect(reconciler.reconciled()).To(Equal([]string{"pay_late"}))
	})
})
