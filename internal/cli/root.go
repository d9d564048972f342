// Package cli implements the river command line interface.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forward/river/internal/buildinfo"
)

// NewRootCmd creates the root command. Every setting resolves flag first, then the
// corresponding RIVER_* environment variable, then the default.
func NewRootCmd(info buildinfo.BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "river",
		Short:         "Incremental query engine over record streams",
		Long:          "River runs declarative queries over record streams and keeps the results current incrementally.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("loglevel", "l", "info",
		"Log level (debug, info, warn, error).")

	viper.SetEnvPrefix("river")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newExplainCmd())
	rootCmd.AddCommand(newVersionCmd(info))

	return rootCmd
}

func newLogger() (logr.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("loglevel"))
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid log level %q: %w", viper.GetString("loglevel"), err)
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zapLog, err := config.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("failed to build logger: %w", err)
	}

	return zapr.NewLogger(zapLog), nil
}

func newVersionCmd(info buildinfo.BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stdout, "river %s\n", info.String())
		},
	}
}
