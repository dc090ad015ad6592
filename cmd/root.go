package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dNIO/cmd/bench"
	"github.com/ValentinKolb/dNIO/cmd/send"
	"github.com/ValentinKolb/dNIO/cmd/serve"
	"github.com/ValentinKolb/dNIO/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dnio",
		Short: "blocking socket toolkit and connection dispatcher",
		Long: fmt.Sprintf(`dNIO (v%s)

A minimal blocking networking toolkit written in Go: byte buffers,
stream sockets, buffered channels and a connection dispatcher that
serves clients inline, on goroutines, on a worker pool or in
separate worker processes.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dNIO",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dNIO v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(serve.WorkerCmd)
	RootCmd.AddCommand(send.SendCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
