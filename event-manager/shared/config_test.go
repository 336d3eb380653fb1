package shared_test

import (
	"os"
	"time"

	. "github.com/Vinubaba/kids-checkin/event-manager/shared"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {

	AfterEach(func() {
		os.Unsetenv("EVENT_MANAGER_SWEEP_BATCH")
		os.Unsetenv("EVENT_MANAGER_SWEEP_INTERVAL")
	})

	It("should load the defaults", func() {
		config, err := InitAppConfiguration()
		Expect(err).To(BeNil())
		Expect(config.SweepBatch).To(Equal(100))
		Expect(config.SweepInterval).To(Equal(30 * time.Second))
		Expect(config.PostgresConnectString()).To(ContainSubstring("dbname=checkin"))
	})

	It("should refuse an empty sweep batch", func() {
		os.Setenv("EVENT_MANAGER_SWEEP_BATCH", "0")
		_, err := InitAppConfiguration()
		Expect(err).To(MatchError(ContainSubstring("EVENT_MANAGER_SWEEP_BATCH")))
	})

	It("should refuse a negative sweep interval", func() {
		os.Setenv("EVENT_MANAGER_SWEEP_INTERVAL", "-1s")
		_, err := InitAppConfiguration()
		Expect(err).To(MatchError(ContainSubstring("EVENT_MANAGER_SWEEP_INTERVAL")))
	})
})
