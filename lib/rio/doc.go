// Package rio provides robust I/O helpers on top of raw descriptor reads and writes.
//
// A raw read performs exactly one system call and may return fewer bytes than asked
// for, a raw write may accept fewer bytes than offered. The helpers in this package
// hide these short counts:
//
//   - ReadExactly loops until n bytes were read or the stream ended
//   - WriteAll loops until every byte was written
//   - Reader buffers a descriptor in a ring buffer and offers Read and ReadLine
//
// End of stream is recognised both as a zero read without error (the convention of
// socket.Socket) and as io.EOF.
package rio
