package comm

import "sync"

// HookPos defines the enum of possible hooking positions
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks
type Hookable interface {
	// AcceptHook registers a hook
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered
	NumHooks() int

	// Hooks returns all the hooks registered
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
// Hooks can be invoked from multiple goroutines.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookPosReqStart marks when a send or receive request is issued. The item is
// the *Request.
var HookPosReqStart = &HookPos{Name: "Req Start"}

// HookPosReqComplete marks when a request completes, successfully or not. The
// item is the *Request.
var HookPosReqComplete = &HookPos{Name: "Req Complete"}

// HookPosMsgSend marks when a message is handed to the transport. The item is
// the *Msg.
var HookPosMsgSend = &HookPos{Name: "Msg Send"}

// HookPosMsgDeliver marks when an inbound message reaches the matching engine.
// The item is the *Msg.
var HookPosMsgDeliver = &HookPos{Name: "Msg Deliver"}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface.
type HookableBase struct {
	hookLock sync.RWMutex
	hooks    []Hook
}

// AcceptHook register a hook
func (h *HookableBase) AcceptHook(hook Hook) {
	h.hookLock.Lock()
	defer h.hookLock.Unlock()

	h.hooks = append(h.hooks, hook)
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.hookLock.RLock()
	defer h.hookLock.RUnlock()

	return len(h.hooks)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	h.hookLock.RLock()
	defer h.hookLock.RUnlock()

	hooks := make([]Hook, len(h.hooks))
	copy(hooks, h.hooks)

	return hooks
}

// InvokeHook triggers the register Hooks
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks() {
		hook.Func(ctx)
	}
}
