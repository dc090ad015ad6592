package serve

import (
	"github.com/ValentinKolb/dNIO/cmd/util"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/ValentinKolb/dNIO/server/dispatch"
	"github.com/spf13/cobra"
)

var (
	workerCmdConfig = common.DefaultServerConfig()
	WorkerCmd       = &cobra.Command{
		Use:     "worker",
		Short:   "Serve one inherited connection",
		Long:    `Serve the connection inherited on descriptor 3 and exit. The fork strategy of the dispatcher starts this command once per connection and configures it through DNIO_* environment variables.`,
		Hidden:  true,
		PreRunE: processWorkerConfig,
		RunE:    runWorker,
	}
)

func init() {
	util.SetupServerFlags(WorkerCmd)
}

func processWorkerConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetServerConfig()
	if err != nil {
		return err
	}
	workerCmdConfig = conf

	return common.InitLoggers(workerCmdConfig.LogLevel)
}

func runWorker(_ *cobra.Command, _ []string) error {
	return dispatch.ServeInherited(dispatch.NewHandler(workerCmdConfig), workerCmdConfig.BufferSize)
}
