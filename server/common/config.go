package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dNIO/lib/socket"
)

// --------------------------------------------------------------------------
// Dispatch strategies
// --------------------------------------------------------------------------

type StrategyName string

const (
	StrategyInline StrategyName = "inline"
	StrategyThread StrategyName = "thread"
	StrategyFork   StrategyName = "fork"
	StrategyPool   StrategyName = "pool"
)

// Strategies lists all known strategy names
var Strategies = []StrategyName{StrategyInline, StrategyThread, StrategyFork, StrategyPool}

// ParseStrategy converts a string to a StrategyName
func ParseStrategy(s string) (StrategyName, error) {
	for _, name := range Strategies {
		if strings.EqualFold(s, string(name)) {
			return name, nil
		}
	}
	return "", fmt.Errorf("invalid strategy %q, must be one of inline, thread, fork, pool", s)
}

// --------------------------------------------------------------------------
// Connection modes
// --------------------------------------------------------------------------

type Mode string

const (
	// ModeGreeting reads one request and answers with the configured response
	ModeGreeting Mode = "greeting"
	// ModeEcho sends every received byte back until the peer closes its side
	ModeEcho Mode = "echo"
)

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeGreeting:
		return ModeGreeting, nil
	case ModeEcho:
		return ModeEcho, nil
	default:
		return "", fmt.Errorf("invalid mode %q, must be one of greeting, echo", s)
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

const (
	DefaultPort       = 8008
	DefaultBufferSize = 8192
	DefaultResponse   = "Hello from server"
)

// ServerConfig holds all configuration parameters of a dispatcher
type ServerConfig struct {
	// Bindpoint
	Host    string
	Port    int
	Backlog int

	// Connection handling
	Strategy   StrategyName
	Workers    int // only used by the pool strategy
	Mode       Mode
	BufferSize int
	Response   string // only used in greeting mode

	// Metrics
	MetricsEndpoint    string // empty disables the HTTP metrics endpoint
	MetricsLogInterval time.Duration

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns the configuration used when nothing is set
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:       DefaultPort,
		Backlog:    socket.DefaultBacklog,
		Strategy:   StrategyThread,
		Workers:    4,
		Mode:       ModeGreeting,
		BufferSize: DefaultBufferSize,
		Response:   DefaultResponse,
		LogLevel:   "info",
	}
}

// Endpoint returns the bindpoint of the server
func (c *ServerConfig) Endpoint() socket.Endpoint {
	return socket.NewEndpoint(c.Host, c.Port)
}

// Validate checks that the configuration can be used to start a dispatcher
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("invalid backlog %d", c.Backlog)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer size %d", c.BufferSize)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Strategy == StrategyPool && c.Workers < 1 {
		return fmt.Errorf("pool strategy needs at least one worker, got %d", c.Workers)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid metrics log interval %s", c.MetricsLogInterval)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Listener")
	addField("Bindpoint", c.Endpoint().String())
	addField("Backlog", strconv.Itoa(c.Backlog))

	addSection("Connections")
	addField("Strategy", string(c.Strategy))
	if c.Strategy == StrategyPool {
		addField("Workers", strconv.Itoa(c.Workers))
	}
	addField("Mode", string(c.Mode))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	if c.Mode == ModeGreeting {
		addField("Response", strconv.Quote(c.Response))
	}

	addSection("Metrics")
	if c.MetricsEndpoint == "" {
		addField("Endpoint", "disabled")
	} else {
		addField("Endpoint", c.MetricsEndpoint)
	}
	if c.MetricsLogInterval > 0 {
		addField("Log Interval", c.MetricsLogInterval.String())
	} else {
		addField("Log Interval", "disabled")
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Host         string
	Port         int
	BufferSize   int
	RetryCount   int
	RetryBackoff time.Duration // initial delay between connection attempts, doubled after each failure
}

// DefaultClientConfig returns the configuration used when nothing is set
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:         "localhost",
		Port:         DefaultPort,
		BufferSize:   DefaultBufferSize,
		RetryCount:   3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Endpoint returns the server endpoint
func (c *ClientConfig) Endpoint() socket.Endpoint {
	return socket.NewEndpoint(c.Host, c.Port)
}

// Validate checks that the configuration can be used by a client
func (c *ClientConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer size %d", c.BufferSize)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("invalid retry count %d", c.RetryCount)
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint().String())
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Retry Backoff", c.RetryBackoff.String())

	return sb.String()
}
