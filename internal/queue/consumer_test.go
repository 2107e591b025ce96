package queue_test

import (
	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"healthbridge.app/syncer/internal/queue"
)

var _ = Describe("ParseMessage", func() {
	It("parses a sync job wake-up", func() {
		msg, err := queue.ParseMessage(redis.XMessage{
			ID: "1-0",
			Values: map[string]any{
				"task_type":      "sync_job",
				"job_id":         "42",
				"integration_id": "7",
				"trigger":        "webhook",
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.JobID).To(Equal(int64(42)))
		Expect(msg.IntegrationID).To(Equal(int64(7)))
		Expect(msg.Trigger).To(Equal("webhook"))
	})

	It("rejects unknown task types", func() {
		_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"task_type": "issue_event", "job_id": "1"}})
		Expect(err).To(MatchError(ContainSubstring("unknown task_type")))
	})

	It("requires a job id", func() {
		_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"task_type": "sync_job"}})
		Expect(err).To(MatchError("missing job_id"))
	})

	It("rejects a malformed job id", func() {
		_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"task_type": "sync_job", "job_id": "x"}})
		Expect(err).To(MatchError(ContainSubstring("parsing job_id")))
	})
})
