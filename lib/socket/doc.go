// Package socket wraps a raw, blocking OS stream socket descriptor with an
// explicit lifecycle. It talks to the kernel directly through golang.org/x/sys/unix
// instead of the net package, so every read and write is exactly one syscall and
// short transfers are visible to the caller.
//
// Key Components:
//
//   - Endpoint: immutable host/port pair. Endpoints produced from raw socket
//     addresses are always numeric (no reverse DNS).
//
//   - Socket: exclusive owner of one descriptor. Its state machine is
//
//     Unbound --Listen--> Listening --Accept--> (new socket) Accepted
//     Unbound --Connect--> Connected
//     any --Close--> Closed
//
//     Accept never changes the listening socket. Close is idempotent and always
//     ends in Closed, even when close(2) fails.
//
// Ownership:
//
//	Exactly one *Socket owns a descriptor. Move hands the descriptor to a new
//	*Socket and resets the source to Unbound, so a descriptor is closed once.
//	A socket that becomes unreachable while still owning a descriptor is closed
//	by a finalizer; failures there are logged.
//
// Sockets are not synchronised. The only call that may safely race with a
// blocked Accept or Read is Shutdown, which is what a dispatcher uses to stop.
package socket
