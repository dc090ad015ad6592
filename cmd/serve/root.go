package serve

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dNIO/cmd/util"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/ValentinKolb/dNIO/server/dispatch"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dNIO dispatcher",
		Long:    `Start the dNIO dispatcher with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DNIO_<flag> (e.g. DNIO_STRATEGY=pool)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	util.SetupServerFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetServerConfig()
	if err != nil {
		return err
	}
	serveCmdConfig = conf

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the dispatcher and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	fmt.Println(serveCmdConfig.String())

	strategy, err := dispatch.NewStrategy(serveCmdConfig)
	if err != nil {
		return err
	}
	d := dispatch.NewDispatcher(serveCmdConfig, strategy, dispatch.NewHandler(serveCmdConfig))

	if err := d.Listen(); err != nil {
		strategy.Shutdown()
		return err
	}

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer = startMetricsServer(serveCmdConfig.MetricsEndpoint, d)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	err = serveUntilSignal(d, sigCh)

	if metricsServer != nil {
		if cerr := metricsServer.Close(); cerr != nil {
			dispatch.Logger.Warningf("failed to stop metrics endpoint: %v", cerr)
		}
	}
	return err
}

// serveUntilSignal runs the accept loop until a signal arrives on sigCh and the dispatcher is shut down.
// A signal that arrives before the loop started is a normal stop as well.
func serveUntilSignal(d *dispatch.Dispatcher, sigCh <-chan os.Signal) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if sig, ok := <-sigCh; ok {
			dispatch.Logger.Infof("received %s, shutting down", sig)
		}
		d.Shutdown()
	}()

	err := d.Serve()
	switch {
	case err == nil, errors.Is(err, dispatch.ErrDispatcherClosed):
		<-stopped
		return nil
	default:
		d.Shutdown()
		return err
	}
}

// startMetricsServer exposes the dispatcher and process metrics at /metrics
func startMetricsServer(addr string, d *dispatch.Dispatcher) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		d.Metrics().WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		dispatch.Logger.Infof("serving metrics on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			dispatch.Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	return srv
}
