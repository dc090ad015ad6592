package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dNIO/lib/socket"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DNIO_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dnio")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Server flags
// --------------------------------------------------------------------------

// SetupServerFlags adds the dispatcher flags to a command
func SetupServerFlags(cmd *cobra.Command) {
	defaults := common.DefaultServerConfig()

	key := "host"
	cmd.Flags().String(key, defaults.Host, WrapString("Host or IP address to bind. Empty binds all interfaces (IPv4 first, then IPv6)"))

	key = "port"
	cmd.Flags().Int(key, defaults.Port, WrapString("Port to listen on, 0 lets the operating system pick one"))

	key = "backlog"
	cmd.Flags().Int(key, defaults.Backlog, WrapString("Length of the queue of connections waiting to be accepted"))

	key = "strategy"
	cmd.Flags().String(key, string(defaults.Strategy), WrapString("How connections are dispatched (inline, thread, fork, pool)"))

	key = "workers"
	cmd.Flags().Int(key, defaults.Workers, WrapString("Number of worker goroutines of the pool strategy"))

	key = "mode"
	cmd.Flags().String(key, string(defaults.Mode), WrapString("What the server does with a connection: greeting answers every request with the response, echo sends the stream back"))

	key = "buffer-size"
	cmd.Flags().Int(key, defaults.BufferSize, WrapString("Size of the receive buffer of every connection in bytes"))

	key = "response"
	cmd.Flags().String(key, defaults.Response, WrapString("Response sent to every client in greeting mode"))

	key = "metrics-endpoint"
	cmd.Flags().String(key, "", WrapString("Address of the HTTP endpoint serving Prometheus metrics at /metrics (e.g. localhost:9090). Empty disables it"))

	key = "metrics-log-interval"
	cmd.Flags().Duration(key, 0, WrapString("Interval in which connection statistics are logged (e.g. 30s). 0 disables it"))

	key = "log-level"
	cmd.Flags().String(key, defaults.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// GetServerConfig reads and validates the dispatcher configuration from viper
func GetServerConfig() (common.ServerConfig, error) {
	strategy, err := common.ParseStrategy(viper.GetString("strategy"))
	if err != nil {
		return common.ServerConfig{}, err
	}
	mode, err := common.ParseMode(viper.GetString("mode"))
	if err != nil {
		return common.ServerConfig{}, err
	}

	conf := common.ServerConfig{
		Host:               viper.GetString("host"),
		Port:               viper.GetInt("port"),
		Backlog:            viper.GetInt("backlog"),
		Strategy:           strategy,
		Workers:            viper.GetInt("workers"),
		Mode:               mode,
		BufferSize:         viper.GetInt("buffer-size"),
		Response:           viper.GetString("response"),
		MetricsEndpoint:    viper.GetString("metrics-endpoint"),
		MetricsLogInterval: viper.GetDuration("metrics-log-interval"),
		LogLevel:           viper.GetString("log-level"),
	}
	if err := conf.Validate(); err != nil {
		return common.ServerConfig{}, err
	}
	return conf, nil
}

// --------------------------------------------------------------------------
// Client flags
// --------------------------------------------------------------------------

// SetupClientFlags adds the client connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "endpoint"
	cmd.PersistentFlags().String(key, defaults.Endpoint().String(), WrapString("The address of the dNIO server (host:port)"))

	key = "buffer-size"
	cmd.PersistentFlags().Int(key, defaults.BufferSize, WrapString("Size of the receive buffer in bytes"))

	key = "retries"
	cmd.PersistentFlags().Int(key, defaults.RetryCount, WrapString("How many times to try to connect"))

	key = "retry-backoff"
	cmd.PersistentFlags().Duration(key, defaults.RetryBackoff, WrapString("Delay before the second connection attempt, doubled for every further attempt"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// GetClientConfig reads and validates the client configuration from viper
func GetClientConfig() (common.ClientConfig, error) {
	endpoint, err := socket.ParseEndpoint(viper.GetString("endpoint"))
	if err != nil {
		return common.ClientConfig{}, fmt.Errorf("invalid endpoint: %w", err)
	}

	conf := common.ClientConfig{
		Host:         endpoint.Host(),
		Port:         endpoint.Port(),
		BufferSize:   viper.GetInt("buffer-size"),
		RetryCount:   viper.GetInt("retries"),
		RetryBackoff: viper.GetDuration("retry-backoff"),
	}
	if err := conf.Validate(); err != nil {
		return common.ClientConfig{}, err
	}
	return conf, nil
}
