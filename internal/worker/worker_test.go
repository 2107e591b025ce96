package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/internal/lock"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/store/memory"
	"healthbridge.app/syncer/internal/worker"
)

type funcProcessor func(ctx context.Context, job *model.SyncJob) error

func (f funcProcessor) ProcessJob(ctx context.Context, job *model.SyncJob) error { return f(ctx, job) }

type fakeMaintainer struct {
	reclaims, schedules, cleanups atomic.Int32
}

func (f *fakeMaintainer) ReclaimStale(context.Context) (int, error) {
	f.reclaims.Add(1)
	return 0, nil
}

func (f *fakeMaintainer) ScheduleDue(context.Context) (int, error) {
	f.schedules.Add(1)
	return 0, nil
}

func (f *fakeMaintainer) Cleanup(context.Context) (int64, error) {
	f.cleanups.Add(1)
	return 0, nil
}

type fakeStates struct{ calls atomic.Int32 }

func (f *fakeStates) CleanupExpiredStates(context.Context) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

type fakeAcker struct{ calls atomic.Int32 }

func (f *fakeAcker) AckStale(context.Context, time.Duration, int64) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

type chanConsumer struct {
	ch    chan queue.Message
	mu    sync.Mutex
	acked []string
}

func (c *chanConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	select {
	case msg := <-c.ch:
		return []queue.Message{msg}, nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanConsumer) Ack(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *chanConsumer) Acked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.acked...)
}

var _ = Describe("Worker", func() {
	var (
		ctx   context.Context
		mem   *memory.Store
		clk   *clock.Fake
		sched *scheduler.Scheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		clk = clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		sched = scheduler.New(mem, mem, nil, scheduler.Config{MaxRetries: 3, JobTimeout: 15 * time.Minute}, scheduler.WithClock(clk))
	})

	enqueue := func(integrationID int64) *model.SyncJob {
		job, err := sched.Enqueue(ctx, scheduler.EnqueueRequest{UserID: "u1", IntegrationID: integrationID, Trigger: model.SyncTriggerManual})
		Expect(err).NotTo(HaveOccurred())
		return job
	}

	It("completes a successful job", func() {
		job := enqueue(1)
		w := worker.New("t", sched, funcProcessor(func(context.Context, *model.SyncJob) error { return nil }), nil, worker.Config{})

		ran, err := w.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ran).To(BeTrue())

		saved, err := sched.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Status).To(Equal(model.SyncJobStatusCompleted))
	})

	It("reports idle when nothing is due", func() {
		w := worker.New("t", sched, funcProcessor(func(context.Context, *model.SyncJob) error { return nil }), nil, worker.Config{})
		ran, err := w.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ran).To(BeFalse())
	})

	It("schedules a retry when the processor fails", func() {
		job := enqueue(1)
		w := worker.New("t", sched, funcProcessor(func(context.Context, *model.SyncJob) error { return errors.New("provider down") }), nil, worker.Config{})

		_, err := w.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())

		saved, err := sched.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Status).To(Equal(model.SyncJobStatusPending))
		Expect(saved.RetryCount).To(Equal(int32(1)))
		Expect(*saved.LastError).To(Equal("provider down"))
	})

	It("cancels a run that outlives the job deadline and records the failure", func() {
		job := enqueue(1)
		w := worker.New("t", sched, funcProcessor(func(ctx context.Context, _ *model.SyncJob) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil, worker.Config{JobDeadline: 20 * time.Millisecond})

		started := time.Now()
		_, err := w.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(started)).To(BeNumerically("<", 5*time.Second))

		saved, err := sched.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Status).To(Equal(model.SyncJobStatusPending))
		Expect(*saved.LastError).To(ContainSubstring("deadline exceeded"))
	})

	It("recovers from a panicking processor", func() {
		job := enqueue(1)
		w := worker.New("t", sched, funcProcessor(func(context.Context, *model.SyncJob) error { panic("nil map") }), nil, worker.Config{})

		Expect(func() { _, _ = w.RunOnce(ctx) }).NotTo(Panic())
		saved, err := sched.Get(ctx, job.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*saved.LastError).To(ContainSubstring("panic: nil map"))
	})

	It("drains due jobs and acknowledges wake-ups until stopped", func() {
		var processed atomic.Int32
		consumer := &chanConsumer{ch: make(chan queue.Message, 1)}
		pool := worker.NewPool(2, sched, funcProcessor(func(context.Context, *model.SyncJob) error {
			processed.Add(1)
			return nil
		}), consumer, worker.Config{PollInterval: 10 * time.Millisecond})

		enqueue(1)
		enqueue(2)

		done := make(chan error, 1)
		go func() { done <- pool.Run(ctx) }()

		Eventually(processed.Load).Should(Equal(int32(2)))

		enqueue(3)
		consumer.ch <- queue.Message{ID: "1-0"}
		Eventually(processed.Load).Should(Equal(int32(3)))
		Eventually(consumer.Acked).Should(ContainElement("1-0"))

		pool.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})
})

var _ = Describe("Periodic", func() {
	It("runs the rescheduler immediately on start", func() {
		m := &fakeMaintainer{}
		p := worker.NewRescheduler(m, worker.MaintenanceConfig{RescheduleInterval: time.Hour})
		go p.Run(context.Background())

		Eventually(m.schedules.Load).Should(Equal(int32(1)))
		p.Stop()
		Expect(m.schedules.Load()).To(Equal(int32(1)))
	})

	It("reaps jobs and stale wake-ups on every tick", func() {
		m := &fakeMaintainer{}
		acker := &fakeAcker{}
		p := worker.NewReaper(m, acker, worker.MaintenanceConfig{ReaperInterval: 10 * time.Millisecond})
		go p.Run(context.Background())

		Eventually(m.reclaims.Load).Should(BeNumerically(">=", 3))
		Eventually(acker.calls.Load).Should(BeNumerically(">=", 3))
		p.Stop()
	})

	It("cleans jobs and oauth states", func() {
		m := &fakeMaintainer{}
		states := &fakeStates{}
		p := worker.NewJanitor(m, states, worker.MaintenanceConfig{CleanupInterval: 10 * time.Millisecond})
		go p.Run(context.Background())

		Eventually(states.calls.Load).Should(BeNumerically(">=", 1))
		Expect(m.cleanups.Load()).To(BeNumerically(">=", 1))
		p.Stop()
	})

	It("skips a tick while another instance holds the lock", func() {
		locker := lock.NewLocalLocker()
		release, err := locker.Acquire(context.Background(), "periodic:rescheduler", time.Minute)
		Expect(err).NotTo(HaveOccurred())

		m := &fakeMaintainer{}
		p := worker.NewRescheduler(m, worker.MaintenanceConfig{RescheduleInterval: 20 * time.Millisecond, Locker: locker})
		go p.Run(context.Background())

		Consistently(m.schedules.Load, 150*time.Millisecond).Should(BeZero())
		release()
		Eventually(m.schedules.Load).Should(BeNumerically(">=", 1))
		p.Stop()
	})
})
