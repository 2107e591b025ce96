package dedup_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/internal/dedup"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/store/memory"
)

func stepsPoints(userID string, integrationID int64, start time.Time, n int) []model.HealthDataPoint {
	out := make([]model.HealthDataPoint, n)
	for i := range out {
		out[i] = model.HealthDataPoint{
			UserID:        userID,
			IntegrationID: integrationID,
			DataType:      model.DataTypeSteps,
			Value:         float64(100 + i),
			Unit:          "count",
			RecordedAt:    start.Add(time.Duration(i) * 10 * time.Minute),
			Source:        "fitbit",
		}
	}
	return out
}

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		stores *memory.Store
		engine *dedup.Engine
		start  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = memory.New()
		engine = dedup.New(stores.DataPoints())
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	It("persists 100 new points and none on an identical re-sync", func() {
		batch := stepsPoints("user-1", 1, start, 100)

		first, err := engine.Persist(ctx, batch)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Persisted).To(Equal(100))

		stored := stores.AllDataPoints()

		second, err := engine.Persist(ctx, batch)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Persisted).To(BeZero())
		Expect(second.Duplicates).To(Equal(100))
		Expect(stores.AllDataPoints()).To(Equal(stored))
	})

	It("keeps only the new points of an overlapping range", func() {
		_, err := engine.Persist(ctx, stepsPoints("user-1", 1, start, 10))
		Expect(err).NotTo(HaveOccurred())

		overlap := stepsPoints("user-1", 1, start, 15)
		result, err := engine.Persist(ctx, overlap)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Persisted).To(Equal(5))
		Expect(stores.AllDataPoints()).To(HaveLen(15))
	})

	It("collapses duplicates within one batch", func() {
		p := stepsPoints("user-1", 1, start, 1)[0]
		out, err := engine.Deduplicate(ctx, []model.HealthDataPoint{p, p, p})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
	})

	It("treats a different value at the same instant as distinct", func() {
		p := stepsPoints("user-1", 1, start, 1)[0]
		q := p
		q.Value = p.Value + 1
		out, err := engine.Deduplicate(ctx, []model.HealthDataPoint{p, q})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(2))
	})

	It("ignores sub-millisecond timestamp differences", func() {
		_, err := engine.Persist(ctx, stepsPoints("user-1", 1, start, 1))
		Expect(err).NotTo(HaveOccurred())

		p := stepsPoints("user-1", 1, start, 1)[0]
		p.RecordedAt = p.RecordedAt.Add(300 * time.Microsecond)
		out, err := engine.Deduplicate(ctx, []model.HealthDataPoint{p})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())
	})

	It("ignores the source when matching", func() {
		_, err := engine.Persist(ctx, stepsPoints("user-1", 1, start, 1))
		Expect(err).NotTo(HaveOccurred())

		p := stepsPoints("user-1", 1, start, 1)[0]
		p.Source = "fitbit:Aria"
		out, err := engine.Deduplicate(ctx, []model.HealthDataPoint{p})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())
	})

	It("scopes matches per user and integration", func() {
		_, err := engine.Persist(ctx, stepsPoints("user-1", 1, start, 3))
		Expect(err).NotTo(HaveOccurred())

		other := append(stepsPoints("user-2", 2, start, 3), stepsPoints("user-1", 3, start, 3)...)
		result, err := engine.Persist(ctx, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Persisted).To(Equal(6))
	})

	It("drops points with unknown data types", func() {
		p := stepsPoints("user-1", 1, start, 1)[0]
		p.DataType = "mood"
		result, err := engine.Persist(ctx, []model.HealthDataPoint{p})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Persisted).To(BeZero())
	})
})
