// Package stream is the public face of the real-time update multiplexer.
//
// A Client holds one WebSocket connection to the workflow server and
// multiplexes any number of topic subscriptions over it. Callers register
// handlers for task updates, task logs, new-task notifications, history
// updates and auxiliary stream events; every registration returns an
// Unregister func.
//
//	c := stream.New(cfg, logger)
//	unregister := c.OnTaskUpdate(id, func(u router.TaskUpdate) { ... })
//	defer unregister()
//	if err := c.ConnectToTask(ctx, id); err != nil { ... }
//
// Construct one Client per session and pass it to the code that needs it.
package stream
