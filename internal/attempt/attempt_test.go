package attempt_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
)

var _ = Describe("Attempt", func() {
	DescribeTable("Kind.String",
		func(k attempt.Kind, expected string) {
			Expect(k.String()).To(Equal(expected))
		},
		Entry("success", attempt.Success, "success"),
		Entry("rate limited", attempt.RateLimited, "rate_limited"),
		Entry("failure", attempt.Failure, "failure"),
		Entry("out of range", attempt.Kind(42), "unknown"),
	)

	It("marks attempts after the first as retries", func() {
		Expect(attempt.Outcome{AttemptNumber: 0}.Retry()).To(BeFalse())
		Expect(attempt.Outcome{AttemptNumber: 1}.Retry()).To(BeTrue())
	})

	It("fans out to every sink in order", func() {
		var seen []string
		sink := attempt.MultiSink{
			attempt.SinkFunc(func(o attempt.Outcome) { seen = append(seen, "a:"+o.RequestID) }),
			attempt.SinkFunc(func(o attempt.Outcome) { seen = append(seen, "b:"+o.RequestID) }),
		}

		sink.Publish(attempt.Outcome{RequestID: "r1"})
		Expect(seen).To(Equal([]string{"a:r1", "b:r1"}))
	})
})
