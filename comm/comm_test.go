package comm

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/gompi/codec"
)

func incomingMsg(src, dst Rank, tag Tag, v any) *Msg {
	payload, err := codec.NewJSONCodec().Encode(v)
	Expect(err).NotTo(HaveOccurred())

	return MsgBuilder{}.
		WithSrc(src).
		WithDst(dst).
		WithTag(tag).
		WithPayload("json", payload).
		Build()
}

var _ = Describe("Builder", func() {
	var (
		mockCtrl  *gomock.Controller
		transport *MockTransport
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		transport = NewMockTransport(mockCtrl)
	})

	It("should panic if the rank is out of the group", func() {
		Expect(func() {
			_, _ = MakeBuilder().
				WithSize(2).
				WithRank(2).
				WithTransport(transport).
				Build("Rank2")
		}).To(Panic())
	})

	It("should panic if the group is empty", func() {
		Expect(func() {
			_, _ = MakeBuilder().WithSize(0).Build("Rank0")
		}).To(Panic())
	})

	It("should panic if a multi-rank group has no transport", func() {
		Expect(func() {
			_, _ = MakeBuilder().WithSize(2).Build("Rank0")
		}).To(Panic())
	})

	It("should build a single-rank group without transport", func() {
		c, err := MakeBuilder().Build("Solo")

		Expect(err).NotTo(HaveOccurred())
		Expect(c.Size()).To(Equal(1))
		Expect(c.Close()).To(Succeed())
	})

	It("should attach to the transport", func() {
		var attached Deliverer
		transport.EXPECT().
			Attach(Rank(1), gomock.Any()).
			DoAndReturn(func(_ Rank, d Deliverer) error {
				attached = d
				return nil
			})
		transport.EXPECT().Close()

		c, err := MakeBuilder().
			WithSize(3).
			WithRank(1).
			WithTransport(transport).
			Build("Rank1")

		Expect(err).NotTo(HaveOccurred())
		Expect(attached).To(BeIdenticalTo(c))
		Expect(c.Name()).To(Equal("Rank1"))
		Expect(c.Rank()).To(Equal(Rank(1)))
		Expect(c.Size()).To(Equal(3))
		Expect(c.Close()).To(Succeed())
	})

	It("should report attach failures", func() {
		transport.EXPECT().
			Attach(Rank(0), gomock.Any()).
			Return(errors.New("taken"))

		_, err := MakeBuilder().
			WithSize(2).
			WithTransport(transport).
			Build("Rank0")

		Expect(err).To(MatchError(ContainSubstring("taken")))
	})
})

var _ = Describe("Comm", func() {
	var (
		mockCtrl  *gomock.Controller
		transport *MockTransport
		c         *Comm
		ctx       context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		transport = NewMockTransport(mockCtrl)
		transport.EXPECT().Attach(Rank(1), gomock.Any())
		transport.EXPECT().Close().AnyTimes()

		var err error
		c, err = MakeBuilder().
			WithSize(4).
			WithRank(1).
			WithTransport(transport).
			Build("Rank1")
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(c.Close()).To(Succeed())
	})

	Context("sending", func() {
		It("should reject destinations out of the group", func() {
			for _, dst := range []Rank{-1, 4, 100} {
				req, err := c.Isend(1, dst, 0)

				Expect(req).To(BeNil())
				Expect(errors.Is(err, ErrInvalidDestination)).To(BeTrue())

				var rankErr *RankError
				Expect(errors.As(err, &rankErr)).To(BeTrue())
				Expect(rankErr.Rank).To(Equal(dst))
				Expect(rankErr.Size).To(Equal(4))
			}

			Expect(c.Stats().Pending).To(Equal(0))
		})

		It("should reject payloads that cannot be encoded", func() {
			req, err := c.Isend(make(chan int), 2, 0)

			Expect(req).To(BeNil())
			Expect(errors.Is(err, ErrSerialization)).To(BeTrue())
		})

		It("should send to the transport", func() {
			var sent *Msg
			transport.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, msg *Msg) error {
					sent = msg
					return nil
				})

			req, err := c.Isend(codec.NewRecord().Set("a", 7), 2, 11)
			Expect(err).NotTo(HaveOccurred())

			status, err := req.Wait(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(sent.Src).To(Equal(Rank(1)))
			Expect(sent.Dst).To(Equal(Rank(2)))
			Expect(sent.Tag).To(Equal(Tag(11)))
			Expect(sent.Codec).To(Equal("json"))
			Expect(string(sent.Payload)).To(Equal(`{"a":7}`))
			Expect(status.Bytes).To(Equal(len(sent.Payload)))
			Expect(req.Kind()).To(Equal(SendRequest))
			Expect(req.Peer()).To(Equal(Rank(2)))
			Expect(c.Stats().SendsCompleted).To(Equal(uint64(1)))
		})

		It("should encode the payload when the send is issued", func() {
			release := make(chan struct{})
			var sent *Msg
			transport.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, msg *Msg) error {
					<-release
					sent = msg
					return nil
				})

			payload := map[string]int{"a": 1}
			req, err := c.Isend(payload, 2, 0)
			Expect(err).NotTo(HaveOccurred())

			payload["a"] = 2
			close(release)

			_, err = req.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(sent.Payload)).To(Equal(`{"a":1}`))
		})

		It("should keep the order of sends", func() {
			var tags []Tag
			transport.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, msg *Msg) error {
					tags = append(tags, msg.Tag)
					return nil
				}).
				Times(5)

			var reqs []*Request
			for i := 0; i < 5; i++ {
				req, err := c.Isend(i, 3, Tag(i))
				Expect(err).NotTo(HaveOccurred())
				reqs = append(reqs, req)
			}

			_, err := WaitAll(ctx, reqs...)

			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(Equal([]Tag{0, 1, 2, 3, 4}))
		})

		It("should not block while the transport is busy", func() {
			release := make(chan struct{})
			transport.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				DoAndReturn(func(context.Context, *Msg) error {
					<-release
					return nil
				}).
				Times(3)

			var reqs []*Request
			for i := 0; i < 3; i++ {
				req, err := c.Isend(i, 0, 0)
				Expect(err).NotTo(HaveOccurred())
				reqs = append(reqs, req)
			}

			Expect(reqs[2].Test()).To(BeFalse())
			Eventually(func() int {
				return c.QueueLevels()[0].Size
			}).Should(Equal(2))

			close(release)

			_, err := WaitAll(ctx, reqs...)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should fail the request if the transport fails", func() {
			transport.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				Return(errors.New("connection reset"))

			req, err := c.Isend(1, 2, 0)
			Expect(err).NotTo(HaveOccurred())

			_, err = req.Wait(ctx)

			Expect(errors.Is(err, ErrTransport)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("connection reset"))
			Expect(c.Stats().Failed).To(Equal(uint64(1)))
		})

		It("should deliver sends to self locally", func() {
			req, err := c.Isend("hello", 1, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Test()).To(BeTrue())

			recv, err := c.Irecv(1, 5)
			Expect(err).NotTo(HaveOccurred())

			status, err := recv.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Source).To(Equal(Rank(1)))

			var s string
			Expect(recv.Decode(&s)).To(Succeed())
			Expect(s).To(Equal("hello"))
		})
	})

	Context("receiving", func() {
		It("should reject sources out of the group", func() {
			req, err := c.Irecv(4, 0)

			Expect(req).To(BeNil())
			Expect(errors.Is(err, ErrInvalidSource)).To(BeTrue())
		})

		It("should complete a posted receive on delivery", func() {
			req, err := c.Irecv(0, 11)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Test()).To(BeFalse())
			Expect(c.PendingRequests()).To(HaveLen(1))

			Expect(c.Deliver(incomingMsg(0, 1, 11, 42))).To(Succeed())

			status, err := req.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Source).To(Equal(Rank(0)))
			Expect(status.Tag).To(Equal(Tag(11)))

			var v int
			Expect(req.Decode(&v)).To(Succeed())
			Expect(v).To(Equal(42))
			Expect(c.PendingRequests()).To(BeEmpty())
			Expect(c.Stats().RecvsCompleted).To(Equal(uint64(1)))
		})

		It("should match a message that arrived earlier", func() {
			Expect(c.Deliver(incomingMsg(0, 1, 11, 42))).To(Succeed())
			Expect(c.Stats().Unexpected).To(Equal(1))

			req, err := c.Irecv(0, 11)

			Expect(err).NotTo(HaveOccurred())
			Expect(req.Test()).To(BeTrue())
			Expect(c.Stats().Unexpected).To(Equal(0))
		})

		It("should only match the same source and tag", func() {
			req, err := c.Irecv(0, 11)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Deliver(incomingMsg(0, 1, 12, "other tag"))).To(Succeed())
			Expect(c.Deliver(incomingMsg(2, 1, 11, "other src"))).To(Succeed())
			Expect(req.Test()).To(BeFalse())

			Expect(c.Deliver(incomingMsg(0, 1, 11, "match"))).To(Succeed())

			var s string
			_, err = req.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Decode(&s)).To(Succeed())
			Expect(s).To(Equal("match"))
		})

		It("should receive in order per channel", func() {
			Expect(c.Deliver(incomingMsg(0, 1, 1, "a"))).To(Succeed())
			Expect(c.Deliver(incomingMsg(0, 1, 2, "b"))).To(Succeed())
			Expect(c.Deliver(incomingMsg(0, 1, 1, "c"))).To(Succeed())

			var s string
			_, err := c.Recv(ctx, &s, 0, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal("b"))

			_, err = c.Recv(ctx, &s, 0, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal("a"))

			_, err = c.Recv(ctx, &s, 0, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal("c"))
		})

		It("should complete posted receives in order", func() {
			first, _ := c.Irecv(3, 0)
			second, _ := c.Irecv(3, 0)

			Expect(c.Deliver(incomingMsg(3, 1, 0, 1))).To(Succeed())
			Expect(first.Test()).To(BeTrue())
			Expect(second.Test()).To(BeFalse())

			Expect(c.Deliver(incomingMsg(3, 1, 0, 2))).To(Succeed())
			Expect(second.Test()).To(BeTrue())
		})

		It("should reject messages for other ranks", func() {
			err := c.Deliver(incomingMsg(0, 2, 0, 1))

			Expect(errors.Is(err, ErrTransport)).To(BeTrue())
		})

		It("should reject messages from unknown ranks", func() {
			err := c.Deliver(incomingMsg(9, 1, 0, 1))

			Expect(errors.Is(err, ErrInvalidSource)).To(BeTrue())
		})
	})

	Context("waiting", func() {
		It("should return the cached result when waiting again", func() {
			Expect(c.Deliver(incomingMsg(0, 1, 0, 1))).To(Succeed())
			req, _ := c.Irecv(0, 0)

			first, err1 := req.Wait(ctx)
			second, err2 := req.Wait(ctx)

			Expect(err1).NotTo(HaveOccurred())
			Expect(err2).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})

		It("should not block on a completed request", func() {
			Expect(c.Deliver(incomingMsg(0, 1, 0, 1))).To(Succeed())
			req, _ := c.Irecv(0, 0)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := req.Wait(cancelled)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should give up waiting when the context ends", func() {
			req, _ := c.Irecv(0, 0)

			short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()

			_, err := req.Wait(short)

			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(req.Test()).To(BeFalse())
		})

		It("should not decode send requests", func() {
			req, _ := c.Isend(1, 1, 0)

			Expect(errors.Is(req.Decode(new(int)), ErrNotReceive)).To(BeTrue())
		})

		It("should not decode pending receives", func() {
			req, _ := c.Irecv(0, 0)

			Expect(errors.Is(req.Decode(new(int)), ErrPending)).To(BeTrue())
			Expect(req.Msg()).To(BeNil())
		})

		It("should report decode failures as serialization errors", func() {
			Expect(c.Deliver(incomingMsg(0, 1, 0, "text"))).To(Succeed())
			req, _ := c.Irecv(0, 0)

			var n int
			err := req.Decode(&n)

			Expect(errors.Is(err, ErrSerialization)).To(BeTrue())
		})
	})

	Context("closing", func() {
		It("should fail pending receives", func() {
			req, _ := c.Irecv(0, 0)

			Expect(c.Close()).To(Succeed())

			_, err := req.Wait(ctx)
			Expect(errors.Is(err, ErrClosed)).To(BeTrue())
		})

		It("should reject new requests", func() {
			Expect(c.Close()).To(Succeed())

			_, err := c.Isend(1, 2, 0)
			Expect(errors.Is(err, ErrClosed)).To(BeTrue())

			_, err = c.Irecv(2, 0)
			Expect(errors.Is(err, ErrClosed)).To(BeTrue())
		})

		It("should send out queued messages first", func() {
			transport.EXPECT().Send(gomock.Any(), gomock.Any()).Times(3)

			var reqs []*Request
			for i := 0; i < 3; i++ {
				req, _ := c.Isend(i, 2, 0)
				reqs = append(reqs, req)
			}

			Expect(c.Close()).To(Succeed())

			for _, req := range reqs {
				Expect(req.Test()).To(BeTrue())
			}
		})
	})

	Context("hooks", func() {
		It("should invoke hooks through the life of a send", func() {
			hook := NewMockHook(mockCtrl)
			c.AcceptHook(hook)

			transport.EXPECT().Send(gomock.Any(), gomock.Any())

			var (
				lock      sync.Mutex
				positions []*HookPos
			)
			hook.EXPECT().
				Func(gomock.Any()).
				Do(func(ctx HookCtx) {
					lock.Lock()
					defer lock.Unlock()
					positions = append(positions, ctx.Pos)
				}).
				Times(3)

			req, _ := c.Isend(1, 2, 0)
			_, err := req.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []*HookPos {
				lock.Lock()
				defer lock.Unlock()
				return append([]*HookPos(nil), positions...)
			}).Should(Equal([]*HookPos{
				HookPosReqStart,
				HookPosMsgSend,
				HookPosReqComplete,
			}))
		})
	})
})
