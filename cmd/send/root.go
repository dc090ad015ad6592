package send

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/dNIO/cmd/util"
	"github.com/ValentinKolb/dNIO/lib/rio"
	"github.com/ValentinKolb/dNIO/server/client"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// maxLineLength bounds one request read from stdin
	maxLineLength = 64 * 1024
)

var (
	dnioClient *client.Client

	// SendCmd sends requests to a running dispatcher
	SendCmd = &cobra.Command{
		Use:   "send [message]",
		Short: "Send a request and print the response",
		Long: `Send a request to a dNIO server and print its response. Every request uses a new connection.
Without arguments every line read from stdin is sent as a separate request.`,
		PersistentPreRunE: setupClient,
		RunE:              run,
	}
)

func init() {
	util.SetupClientFlags(SendCmd)

	key := "newline"
	SendCmd.Flags().Bool(key, true, util.WrapString("Print a newline after every response that does not end with one"))
}

// setupClient creates the client from flags and environment variables
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	dnioClient = client.NewClient(config)
	return nil
}

func run(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return sendOne([]byte(strings.Join(args, " ")))
	}

	in := rio.NewReader(os.Stdin)
	for {
		line, err := in.ReadLine(maxLineLength)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		if err := sendOne(line); err != nil {
			return err
		}
	}
}

// sendOne performs one request and writes the response to stdout
func sendOne(request []byte) error {
	resp, err := dnioClient.Do(request)
	if err != nil {
		return err
	}
	if viper.GetBool("newline") && (len(resp) == 0 || resp[len(resp)-1] != '\n') {
		resp = append(resp, '\n')
	}
	if _, err := rio.WriteAll(os.Stdout, resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
