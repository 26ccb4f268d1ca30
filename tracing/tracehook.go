package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/gompi/comm"
)

// NamedHookable represent something both have a name and can be hooked
type NamedHookable interface {
	comm.Named
	comm.Hookable
}

// CollectTrace let the tracer to collect trace from a domain
func CollectTrace(domain NamedHookable, tracer Tracer) {
	hooks := domain.Hooks()
	for _, hook := range hooks {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer)))
		}
	}

	h := traceHook{t: tracer, where: domain.Name()}
	domain.AcceptHook(&h)
}

// A traceHook is a hook that traces requests
type traceHook struct {
	t     Tracer
	where string
}

// Func calls the tracer interfaces when the hook is triggered
func (h *traceHook) Func(ctx comm.HookCtx) {
	req, ok := ctx.Item.(*comm.Request)
	if !ok {
		return
	}

	switch ctx.Pos {
	case comm.HookPosReqStart:
		h.t.StartTask(h.taskOf(req))
	case comm.HookPosReqComplete:
		task := h.taskOf(req)

		status, err := req.Result()
		task.Bytes = status.Bytes
		if err != nil {
			task.Err = err.Error()
		}

		h.t.EndTask(task)
	}
}

func (h *traceHook) taskOf(req *comm.Request) Task {
	src, dst := req.Owner(), req.Peer()
	if req.Kind() == comm.RecvRequest {
		src, dst = dst, src
	}

	return Task{
		ID:     req.ID(),
		Kind:   req.Kind().String(),
		What:   fmt.Sprintf("%d->%d", src, dst),
		Where:  h.where,
		Peer:   req.Peer(),
		Tag:    req.Tag(),
		Detail: req,
	}
}
