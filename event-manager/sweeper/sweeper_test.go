package sweeper_test

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/event-manager/shared"
	. "github.com/Vinubaba/kids-checkin/event-manager/sweeper"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
)

type MockStateMachine struct {
	mock.Mock
}

func (m *MockStateMachine) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

var _ = Describe("Sweeper", func() {

	var (
		ctx          = context.Background()
		output       *bytes.Buffer
		stateMachine *MockStateMachine
		sweeper      *Sweeper
	)

	BeforeEach(func() {
		output = &bytes.Buffer{}
		stateMachine = &MockStateMachine{}
		sweeper = &Sweeper{
			Config:       &shared.AppConfig{SweepInterval: 10 * time.Millisecond, SweepBatch: 2},
			Logger:       log.NewLoggerTo(output, "event-manager"),
			StateMachine: stateMachine,
		}
	})

	Describe("Sweep", func() {

		It("should keep going while batches come back full", func() {
			stateMachine.On("ExpireOverdue", mock.Anything, 2).Return(2, nil).Twice()
			stateMachine.On("ExpireOverdue", mock.Anything, 2).Return(1, nil).Once()

			Expect(sweeper.Sweep(ctx)).To(Equal(5))
			stateMachine.AssertExpectations(GinkgoT())
			Expect(output.String()).To(ContainSubstring("expired overdue requests"))
		})

		It("should stay quiet when nothing is overdue", func() {
			stateMachine.On("ExpireOverdue", mock.Anything, 2).Return(0, nil).Once()

			Expect(sweeper.Sweep(ctx)).To(Equal(0))
			Expect(output.String()).NotTo(ContainSubstring("expired overdue requests"))
		})

		It("should not spin on a non positive batch size", func() {
			sweeper.Config.SweepBatch = 0
			stateMachine.On("ExpireOverdue", mock.Anything, 0).Return(0, nil).Once()

			Expect(sweeper.Sweep(ctx)).To(Equal(0))
			stateMachine.AssertNumberOfCalls(GinkgoT(), "ExpireOverdue", 1)
		})

		It("should stop at the first failure and report what was expired", func() {
			stateMachine.On("ExpireOverdue", mock.Anything, 2).Return(2, nil).Once()
			stateMachine.On("ExpireOverdue", mock.Anything, 2).Return(1, errors.New("connection reset")).Once()

			Expect(sweeper.Sweep(ctx)).To(Equal(3))
			stateMachine.AssertExpectations(GinkgoT())
			Expect(output.String()).To(ContainSubstring("connection reset"))
		})
	})

	Describe("Start", func() {

		It("should sweep on every tick until the context is done", func() {
			var sweeps int32
			stateMachine.On("ExpireOverdue", mock.Anything, 2).Return(0, nil).Run(func(mock.Arguments) {
				atomic.AddInt32(&sweeps, 1)
			})
			runCtx, cancel := context.WithCancel(ctx)

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				sweeper.Start(runCtx)
				close(done)
			}()

			Eventually(func() int32 {
				return atomic.LoadInt32(&sweeps)
			}).Should(BeNumerically(">=", 3))
			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})
