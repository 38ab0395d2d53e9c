package router

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/flowstream/internal/envelope"
	"github.com/rickgao/flowstream/internal/metrics"
)

// Router fans decoded frames out to registered handlers.
//
// Dispatch is called from the connection's session goroutine, so handlers
// for one task see frames in wire order. Handlers run synchronously and
// must not block. Registration and unregistration are safe from any
// goroutine, including from inside a handler.
type Router struct {
	logger *slog.Logger

	updates     *handlerSet[TaskUpdate]
	logs        *handlerSet[envelope.ExecutionLog]
	newTask     *handlerSet[envelope.Notification]
	history     *handlerSet[envelope.HistoryUpdate]
	auxLog      *handlerSet[envelope.AuxLog]
	auxComplete *handlerSet[envelope.AuxComplete]

	received    atomic.Int64
	routed      atomic.Int64
	unknown     atomic.Int64
	invocations atomic.Int64
	faults      atomic.Int64
}

// New creates a new Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		logger:      logger.With("component", "router"),
		updates:     newHandlerSet[TaskUpdate](CategoryUpdate),
		logs:        newHandlerSet[envelope.ExecutionLog](CategoryLog),
		newTask:     newHandlerSet[envelope.Notification](CategoryNewTask),
		history:     newHandlerSet[envelope.HistoryUpdate](CategoryHistory),
		auxLog:      newHandlerSet[envelope.AuxLog](CategoryAuxLog),
		auxComplete: newHandlerSet[envelope.AuxComplete](CategoryAuxComplete),
	}
}

// OnTaskUpdate registers h for execution updates of one task.
func (r *Router) OnTaskUpdate(taskID string, h func(TaskUpdate)) Unregister {
	_, unregister := r.updates.add(taskID, h)
	return unregister
}

// OnTaskLog registers h for log lines of one task.
func (r *Router) OnTaskLog(taskID string, h func(envelope.ExecutionLog)) Unregister {
	_, unregister := r.logs.add(taskID, h)
	return unregister
}

// OnNewTask registers h for server notifications.
func (r *Router) OnNewTask(h func(envelope.Notification)) Unregister {
	_, unregister := r.newTask.add("", h)
	return unregister
}

// OnHistoryUpdate registers h for the history projection of every
// execution update, regardless of task.
func (r *Router) OnHistoryUpdate(h func(envelope.HistoryUpdate)) Unregister {
	_, unregister := r.history.add("", h)
	return unregister
}

// OnAuxLog registers h for auxiliary stream log lines.
func (r *Router) OnAuxLog(h func(envelope.AuxLog)) Unregister {
	_, unregister := r.auxLog.add("", h)
	return unregister
}

// OnAuxComplete registers h for auxiliary stream completion.
func (r *Router) OnAuxComplete(h func(envelope.AuxComplete)) Unregister {
	_, unregister := r.auxComplete.add("", h)
	return unregister
}

// Dispatch routes one frame. Connection control frames are ignored here;
// the connection manager consumes them before dispatching.
func (r *Router) Dispatch(env envelope.Envelope) {
	r.received.Add(1)

	var n int
	switch e := env.(type) {
	case *envelope.ExecutionUpdate:
		if id := e.TaskID(); id != "" {
			n = deliver(r, r.updates, id, TaskUpdate{Update: *e, IsComplete: e.IsComplete()})
		} else {
			r.logger.Debug("execution update without task id", "status", e.Status)
		}
		n += deliver(r, r.history, "", e.History())

	case *envelope.ExecutionLog:
		id := e.TaskID()
		if id == "" {
			r.logger.Debug("execution log without task id")
			return
		}
		n = deliver(r, r.logs, id, *e)

	case *envelope.Notification:
		n = deliver(r, r.newTask, "", *e)

	case *envelope.AuxLog:
		n = deliver(r, r.auxLog, "", *e)

	case *envelope.AuxComplete:
		n = deliver(r, r.auxComplete, "", *e)

	case *envelope.Unknown:
		r.unknown.Add(1)
		metrics.FramesUnknownTotal.Inc()
		r.logger.Debug("skipping unknown message type", "type", e.Type)
		return

	case *envelope.Connected, *envelope.Subscribed, *envelope.Unsubscribed, *envelope.Pong:
		return
	}

	if n > 0 {
		r.routed.Add(1)
	}
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived:   r.received.Load(),
		MessagesRouted:     r.routed.Load(),
		UnknownMessages:    r.unknown.Load(),
		HandlerInvocations: r.invocations.Load(),
		HandlerFaults:      r.faults.Load(),
		Handlers: r.updates.count() + r.logs.count() + r.newTask.count() +
			r.history.count() + r.auxLog.count() + r.auxComplete.count(),
	}
}

// deliver invokes every live registration for key and returns how many
// were invoked. A registration removed while the batch is running is
// skipped.
func deliver[T any](r *Router, set *handlerSet[T], key string, v T) int {
	n := 0
	for _, reg := range set.snapshot(key) {
		if !reg.active.Load() {
			continue
		}
		r.invoke(set.category, reg.id, func() { reg.fn(v) })
		n++
	}
	return n
}

// invoke runs one handler, recovering a panic so other handlers and the
// session loop are unaffected.
func (r *Router) invoke(category string, id uuid.UUID, fn func()) {
	r.invocations.Add(1)
	defer func() {
		rec := recover()
		metrics.RecordHandler(category, rec != nil)
		if rec == nil {
			return
		}
		r.faults.Add(1)
		r.logger.Error("handler panicked",
			"category", category,
			"handler", id,
			"panic", rec,
			"stack", string(debug.Stack()),
		)
	}()
	fn()
}
