package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	testlogger "github.com/mutualcredit/mcledger/internal/testutils/logger"
	"github.com/mutualcredit/mcledger/logger"
)

func newConfigTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("rest-address", defaultRESTAddress, "")
	cmd.Flags().StringSlice("bootstrap-addresses", nil, "")
	cmd.Flags().Float64("credit-limit", -100, "")
	cmd.Flags().String("address", defaultP2PAddress, "")
	return cmd
}

func TestInitializeConfig_Defaults(t *testing.T) {
	cmd := newConfigTestCmd()
	conf := &rootConfig{HomeDir: t.TempDir()}
	require.NoError(t, conf.loadConfig(cmd))
	require.Equal(t, filepath.Join(conf.HomeDir, defaultConfigFile), conf.CfgFile)

	v, err := cmd.Flags().GetString("rest-address")
	require.NoError(t, err)
	require.Equal(t, defaultRESTAddress, v)
	limit, err := cmd.Flags().GetFloat64("credit-limit")
	require.NoError(t, err)
	require.EqualValues(t, -100, limit)
}

func TestInitializeConfig_EnvAndFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, defaultConfigFile), []byte("credit-limit=-50\naddress=/ip4/127.0.0.1/tcp/1111\n"), 0600))
	t.Setenv("MCL_REST_ADDRESS", "localhost:1234")
	t.Setenv("MCL_BOOTSTRAP_ADDRESSES", "/ip4/127.0.0.1/tcp/2222")
	// environment wins over the config file
	t.Setenv("MCL_ADDRESS", "/ip4/127.0.0.1/tcp/3333")

	cmd := newConfigTestCmd()
	conf := &rootConfig{HomeDir: home}
	require.NoError(t, conf.loadConfig(cmd))

	restAddr, err := cmd.Flags().GetString("rest-address")
	require.NoError(t, err)
	require.Equal(t, "localhost:1234", restAddr)
	bootstrap, err := cmd.Flags().GetStringSlice("bootstrap-addresses")
	require.NoError(t, err)
	require.Equal(t, []string{"/ip4/127.0.0.1/tcp/2222"}, bootstrap)
	limit, err := cmd.Flags().GetFloat64("credit-limit")
	require.NoError(t, err)
	require.EqualValues(t, -50, limit)
	addr, err := cmd.Flags().GetString("address")
	require.NoError(t, err)
	require.Equal(t, "/ip4/127.0.0.1/tcp/3333", addr)
}

func TestInitializeConfig_FlagWins(t *testing.T) {
	t.Setenv("MCL_REST_ADDRESS", "localhost:1234")

	cmd := newConfigTestCmd()
	require.NoError(t, cmd.Flags().Set("rest-address", "localhost:4321"))
	conf := &rootConfig{HomeDir: t.TempDir()}
	require.NoError(t, conf.loadConfig(cmd))

	v, err := cmd.Flags().GetString("rest-address")
	require.NoError(t, err)
	require.Equal(t, "localhost:4321", v)
}

func TestInitializeConfig_HomeFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MCL_HOME", home)
	t.Setenv("MCL_CONFIG", "custom.props")

	conf := &rootConfig{}
	conf.resolvePaths()
	require.Equal(t, home, conf.HomeDir)
	require.Equal(t, filepath.Join(home, "custom.props"), conf.CfgFile)
	require.Equal(t, filepath.Join(home, "keys.json"), conf.pathInHome("", "keys.json"))
	require.Equal(t, "/tmp/other.json", conf.pathInHome("/tmp/other.json", "keys.json"))
}

func TestNewLogger(t *testing.T) {
	var got *logger.LogConfiguration
	logF := func(cfg *logger.LogConfiguration) (*slog.Logger, error) {
		got = cfg
		return testlogger.New(t), nil
	}
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		(&rootConfig{}).addFlags(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		return cmd
	}

	t.Run("default file does not exist", func(t *testing.T) {
		conf := &rootConfig{HomeDir: t.TempDir(), LogCfgFile: defaultLoggerConfigFile, logF: logF}
		_, err := conf.newLogger(newCmd())
		require.NoError(t, err)
		require.Equal(t, &logger.LogConfiguration{}, got)
	})

	t.Run("custom file does not exist", func(t *testing.T) {
		conf := &rootConfig{HomeDir: t.TempDir(), LogCfgFile: "custom.yaml", logF: logF}
		_, err := conf.newLogger(newCmd())
		require.ErrorContains(t, err, "opening logger configuration file")
	})

	t.Run("flags override file", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(home, defaultLoggerConfigFile), []byte("defaultLevel: info\nformat: json\npeerIdFormat: short\n"), 0600))
		conf := &rootConfig{HomeDir: home, LogCfgFile: defaultLoggerConfigFile, logF: logF}
		_, err := conf.newLogger(newCmd("--log-format", "ecs"))
		require.NoError(t, err)
		require.Equal(t, &logger.LogConfiguration{Level: "info", Format: "ecs", PeerIDFormat: "short"}, got)
	})

	t.Run("invalid file", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(home, defaultLoggerConfigFile), []byte("defaultLevel: [info"), 0600))
		conf := &rootConfig{HomeDir: home, LogCfgFile: defaultLoggerConfigFile, logF: logF}
		_, err := conf.newLogger(newCmd())
		require.ErrorContains(t, err, "decoding logger configuration")
	})
}

func TestPathInHome(t *testing.T) {
	conf := &rootConfig{HomeDir: "/home/agent"}
	require.Equal(t, "/home/agent/keys.json", conf.pathInHome("", "keys.json"))
	require.Equal(t, "/home/agent/other.json", conf.pathInHome("other.json", "keys.json"))
	require.Equal(t, "/tmp/other.json", conf.pathInHome("/tmp/other.json", "keys.json"))
}

func TestBaseCmd_InvalidObservabilityFlags(t *testing.T) {
	cmd := New(testlogger.LoggerBuilder(t))
	args := "identifier -g --home " + t.TempDir() + " --metrics unknown"
	cmd.baseCmd.SetArgs(strings.Split(args, " "))
	err := cmd.Execute(context.Background())
	require.ErrorContains(t, err, "initializing observability")
}
