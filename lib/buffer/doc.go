// Package buffer provides ByteBuffer, a fixed-capacity byte container with
// NIO-style cursors used to stage data between the network and application code.
//
// A ByteBuffer tracks three indices over its backing storage:
//
//   - capacity: the size of the storage, fixed at allocation
//   - limit: the exclusive upper bound of the valid region
//   - position: the next index to be read or written
//
// The invariant 0 <= position <= limit <= capacity holds at all times. Every
// operation that would break it fails with one of the package errors instead
// of touching memory outside the valid region. Bulk transfers are all or
// nothing: a failed call leaves the cursors of every involved buffer unchanged.
//
// The same buffer is reused for both directions with two transitions:
//
//   - Clear: position = 0, limit = capacity (ready to be filled)
//   - Flip: limit = position, position = 0 (ready to be drained)
//
// Typical use:
//
//	buf := buffer.New(8192)
//	buf.Clear()
//	_ = buf.PutString("ping")
//	buf.Flip()
//	fmt.Println(buf.Drain()) // "ping", buf is now empty
//
// Ownership:
//
//	A ByteBuffer exclusively owns its storage. It must not be copied by value
//	(go vet reports copies through the embedded noCopy marker) and it is not
//	safe for concurrent use. Use Move to hand the storage to a new owner.
package buffer
