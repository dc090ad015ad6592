package util

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog and keeps running through the whole field"
	wrapped := WrapString(text)
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, text, strings.ReplaceAll(wrapped, "\n", " "))
	assert.Equal(t, "", WrapString(""))
}

func TestGetServerConfigFromFlags(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupServerFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "9000", "--strategy", "POOL", "--workers", "2", "--mode", "echo", "--metrics-log-interval", "10s"}))
	require.NoError(t, BindCommandFlags(cmd))

	conf, err := GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 9000, conf.Port)
	assert.Equal(t, common.StrategyPool, conf.Strategy)
	assert.Equal(t, 2, conf.Workers)
	assert.Equal(t, common.ModeEcho, conf.Mode)
	assert.Equal(t, 10*time.Second, conf.MetricsLogInterval)
	assert.Equal(t, common.DefaultResponse, conf.Response)
	assert.Equal(t, common.DefaultBufferSize, conf.BufferSize)
}

func TestGetServerConfigFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("DNIO_STRATEGY", "fork")
	t.Setenv("DNIO_BUFFER_SIZE", "128")
	InitConfig()

	cmd := &cobra.Command{Use: "test"}
	SetupServerFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(nil))
	require.NoError(t, BindCommandFlags(cmd))

	conf, err := GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, common.StrategyFork, conf.Strategy)
	assert.Equal(t, 128, conf.BufferSize)
}

func TestGetServerConfigRejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupServerFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--strategy", "epoll"}))
	require.NoError(t, BindCommandFlags(cmd))

	_, err := GetServerConfig()
	assert.Error(t, err)
}

func TestGetClientConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupClientFlags(cmd)
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--endpoint", "127.0.0.1:9001", "--retries", "5"}))
	require.NoError(t, viper.BindPFlags(cmd.PersistentFlags()))

	conf, err := GetClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", conf.Host)
	assert.Equal(t, 9001, conf.Port)
	assert.Equal(t, 5, conf.RetryCount)
	assert.Equal(t, common.DefaultClientConfig().RetryBackoff, conf.RetryBackoff)

	viper.Set("endpoint", "no-port")
	_, err = GetClientConfig()
	assert.Error(t, err)
}
