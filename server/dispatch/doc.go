// Package dispatch implements the connection dispatcher of the server: an accept
// loop on one listening channel that hands every accepted connection to a handler
// according to a pluggable strategy.
//
// Key Components:
//
//   - Dispatcher: owns the listening channel. Listen binds the configured endpoint
//     (a bind failure is returned and is fatal for the dispatcher), Serve runs the
//     accept loop and Shutdown wakes a blocked accept, closes the listener and waits
//     for the strategy. Accept errors are logged and retried with exponential backoff,
//     they never end the loop.
//
//   - Strategy: decides where a handler runs.
//     InlineStrategy runs it on the accepting goroutine (one connection at a time),
//     ThreadStrategy starts one goroutine per connection, PoolStrategy feeds a fixed
//     set of worker goroutines through a FIFO and ForkStrategy passes the connection
//     to a new worker process which calls ServeInherited.
//
//   - Handler: serves one connection. Strategies always close the channel after the
//     handler returned, handlers never have to. NewGreetingHandler answers one
//     request with a configured response, NewEchoHandler mirrors the stream.
//
//   - Metrics: accepted, closed and failed connections plus connection durations,
//     exported in Prometheus format and optionally logged periodically.
//
// Sessions:
//
// Every accepted connection becomes a Session with a dispatcher-unique id. Active
// sessions are tracked in a concurrent map until the strategy finished them, which
// for ForkStrategy is when the worker process was reaped.
package dispatch
