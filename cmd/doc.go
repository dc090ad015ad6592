// Package cmd implements the command-line interface of dNIO. It provides a
// hierarchical command structure for running the dispatcher and talking to it
// as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting the dispatcher and the hidden worker command used by the fork strategy
//   - send: Command that sends requests and prints the responses
//   - bench: Load generator measuring throughput and latency of a running server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dnio -help for a list of all commands.
package cmd
