package inproc_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/gompi/codec"
	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/transport/inproc"
)

var _ = Describe("Fabric", func() {
	var (
		mockCtrl *gomock.Controller
		fabric   *inproc.Fabric
		ctx      context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		fabric = inproc.MakeBuilder().WithSize(3).Build("Fabric")
		ctx = context.Background()
	})

	It("should panic when building an empty fabric", func() {
		Expect(func() {
			inproc.MakeBuilder().WithSize(0).Build("Empty")
		}).To(Panic())
	})

	It("should forward messages to the destination", func() {
		dst := NewMockDeliverer(mockCtrl)
		Expect(fabric.Endpoint(2).Attach(2, dst)).To(Succeed())

		msg := comm.MsgBuilder{}.WithSrc(0).WithDst(2).Build()
		dst.EXPECT().Deliver(msg)

		Expect(fabric.Endpoint(0).Send(ctx, msg)).To(Succeed())
	})

	It("should propagate delivery errors", func() {
		dst := NewMockDeliverer(mockCtrl)
		Expect(fabric.Endpoint(1).Attach(1, dst)).To(Succeed())
		dst.EXPECT().Deliver(gomock.Any()).Return(comm.ErrTransport)

		msg := comm.MsgBuilder{}.WithSrc(0).WithDst(1).Build()

		Expect(fabric.Endpoint(0).Send(ctx, msg)).
			To(MatchError(comm.ErrTransport))
	})

	It("should fail to send to detached ranks", func() {
		msg := comm.MsgBuilder{}.WithSrc(0).WithDst(1).Build()

		err := fabric.Endpoint(0).Send(ctx, msg)

		Expect(errors.Is(err, comm.ErrTransport)).To(BeTrue())
	})

	It("should not attach a rank twice", func() {
		Expect(fabric.Endpoint(1).Attach(1, NewMockDeliverer(mockCtrl))).
			To(Succeed())

		err := fabric.Endpoint(1).Attach(1, NewMockDeliverer(mockCtrl))

		Expect(errors.Is(err, comm.ErrTransport)).To(BeTrue())
	})

	It("should not attach another rank", func() {
		err := fabric.Endpoint(1).Attach(2, NewMockDeliverer(mockCtrl))

		Expect(errors.Is(err, comm.ErrTransport)).To(BeTrue())
	})

	It("should detach closed endpoints", func() {
		ep := fabric.Endpoint(1)
		Expect(ep.Attach(1, NewMockDeliverer(mockCtrl))).To(Succeed())
		Expect(ep.Close()).To(Succeed())

		msg := comm.MsgBuilder{}.WithSrc(0).WithDst(1).Build()
		Expect(fabric.Endpoint(0).Send(ctx, msg)).NotTo(Succeed())
		Expect(ep.Send(ctx, msg)).NotTo(Succeed())
	})

	It("should connect communicators", func() {
		comms := make([]*comm.Comm, 3)
		for i := range comms {
			c, err := comm.MakeBuilder().
				WithSize(3).
				WithRank(comm.Rank(i)).
				WithTransport(fabric.Endpoint(comm.Rank(i))).
				Build("Rank")
			Expect(err).NotTo(HaveOccurred())
			comms[i] = c
		}

		defer func() {
			for _, c := range comms {
				Expect(c.Close()).To(Succeed())
			}
		}()

		var wg sync.WaitGroup
		received := make([]*codec.Record, 3)
		for i := 1; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				rec := codec.NewRecord()
				_, err := comms[i].Recv(ctx, rec, 0, 11)
				Expect(err).NotTo(HaveOccurred())
				received[i] = rec
			}(i)
		}

		payload := codec.NewRecord().Set("a", 7).Set("b", 3.14)
		for i := 1; i < 3; i++ {
			Expect(comms[0].Send(ctx, payload, comm.Rank(i), 11)).To(Succeed())
		}

		wg.Wait()

		for i := 1; i < 3; i++ {
			Expect(received[i].Equal(payload)).To(BeTrue())
		}
	})
})
