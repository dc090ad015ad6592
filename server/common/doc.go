// Package common provides configuration and logging shared by the server, the
// client and the command line interface.
//
// Key Components:
//
//   - ServerConfig: bindpoint, accept backlog, dispatch strategy, receive buffer size,
//     greeting response and metrics settings of a dispatcher. Validate rejects values
//     a dispatcher cannot start with, String renders the configuration for the startup log.
//
//   - ClientConfig: server endpoint, buffer size and connection retry behavior of the
//     demo client.
//
//   - Logger: custom implementation of dragonboat's logger.ILogger that gives every
//     package logger (socket, channel, rio, dispatch, client, metrics) the same line format.
//     InitLoggers installs the factory and sets the level of all of them at once.
package common
