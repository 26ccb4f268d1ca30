package comm

import (
	"log"
)

// LogHookBase provides the common logic for hooks that write into a logger.
type LogHookBase struct {
	*log.Logger
}

// MsgLogger is a hook for logging messages and requests as they pass through a
// communicator.
type MsgLogger struct {
	LogHookBase
}

// NewMsgLogger returns a new MsgLogger which will write into the logger
func NewMsgLogger(logger *log.Logger) *MsgLogger {
	h := new(MsgLogger)
	h.Logger = logger
	return h
}

// Func writes the message or request information into the logger.
func (h *MsgLogger) Func(ctx HookCtx) {
	where := ""
	if named, ok := ctx.Domain.(Named); ok {
		where = named.Name()
	}

	switch item := ctx.Item.(type) {
	case *Msg:
		h.Logger.Printf("%s,%s,%d,%d,%d,%s,%d\n",
			where, ctx.Pos.Name,
			item.Src, item.Dst, item.Tag,
			item.ID, item.TrafficBytes)
	case *Request:
		h.Logger.Printf("%s,%s,%s,%d,%d,%s\n",
			where, ctx.Pos.Name,
			item.Kind(), item.Peer(), item.Tag(),
			item.ID())
	}
}
