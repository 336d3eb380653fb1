package messaging

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Message", func() {

	It("should call the registered ack and nack", func() {
		acked, nacked := 0, 0
		msg := Message{ID: "1"}
		msg.RegisterAck(func() error { acked++; return nil })
		msg.RegisterNack(func() error { nacked++; return nil })

		Expect(msg.Ack()).To(BeNil())
		Expect(msg.Nack()).To(BeNil())
		Expect(acked).To(Equal(1))
		Expect(nacked).To(Equal(1))
	})

	It("should ack a local message as a no-op", func() {
		msg := Message{Data: []byte("{}")}
		Expect(msg.Ack()).To(BeNil())
		Expect(msg.Nack()).To(BeNil())
	})
})
