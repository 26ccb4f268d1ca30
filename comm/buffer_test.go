package comm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Buffer", func() {
	It("should pop in fifo order", func() {
		buf := NewBuffer("Buf", 3)

		buf.Push(1)
		buf.Push(2)

		Expect(buf.Size()).To(Equal(2))
		Expect(buf.Peek()).To(Equal(1))
		Expect(buf.Pop()).To(Equal(1))
		Expect(buf.Pop()).To(Equal(2))
		Expect(buf.Pop()).To(BeNil())
	})

	It("should panic on overflow", func() {
		buf := NewBuffer("Buf", 1)
		buf.Push(1)

		Expect(buf.CanPush()).To(BeFalse())
		Expect(func() { buf.Push(2) }).To(Panic())
	})

	It("should never be full if the capacity is 0", func() {
		buf := NewBuffer("Buf", 0)

		for i := 0; i < 1000; i++ {
			buf.Push(i)
		}

		Expect(buf.CanPush()).To(BeTrue())
		Expect(buf.Size()).To(Equal(1000))

		buf.Clear()
		Expect(buf.Size()).To(Equal(0))
	})

	It("should invoke hooks on push and pop", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		hook := NewMockHook(mockCtrl)
		buf := NewBuffer("Buf", 2)
		buf.AcceptHook(hook)

		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosBufPush))
			Expect(ctx.Item).To(Equal("x"))
		})
		buf.Push("x")

		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosBufPop))
		})
		buf.Pop()
	})
})
