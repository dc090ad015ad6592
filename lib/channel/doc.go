// Package channel layers buffer-to-buffer I/O over a blocking socket.
//
// Channel is the transport-neutral contract (Read, Write, Close, IsOpen) that
// connection handlers program against. SocketChannel is its only implementation
// today; other transports (pipes, TLS-wrapped sockets) can implement the same
// interface.
//
// Read and Write semantics:
//
//   - Read is buffered: when the internal receive buffer is empty it is refilled
//     by a single OS read of up to its capacity, then as many bytes as fit are
//     copied into the destination buffer. A zero-byte refill is end of stream and
//     is reported as (0, io.EOF). Callers loop until they have what they need.
//
//   - Write is best effort: one OS write of the source's remaining region. The
//     source position advances by the number of bytes the kernel accepted, which
//     may be less than requested. Callers loop until the source is exhausted.
//
// WriteFully and ReadFully are the looping counterparts for callers that want a
// guaranteed transfer. Write itself never loops.
//
// A SocketChannel exclusively owns its socket and receive buffer. Hand it to
// another goroutine by transferring the pointer (or Move); never call Read or
// Write on the same channel from two goroutines.
package channel
