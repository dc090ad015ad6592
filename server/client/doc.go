// Package client implements the demo client of the dispatcher.
//
// Every call to Client.Do opens a new connection (retrying with exponential
// backoff and jitter), writes the whole request, shuts down the sending side so
// the server sees end of stream and then reads until the server closes the
// connection.
package client
