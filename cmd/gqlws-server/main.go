package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/bhoriuchi/gqlws/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Use:           "gqlws-server",
	Short:         "GraphQL over websocket example server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().Bool("log-json", false, "write logs as json")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	viper.SetEnvPrefix("GQLWS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config %s: %s\n", file, err)
			os.Exit(1)
		}
	}
}

// newLogger builds the zap logger and the LogFunc handed to the library
func newLogger() (*zap.Logger, logger.LogFunc, error) {
	level, err := logger.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, nil, err
	}

	config := zap.NewDevelopmentConfig()
	if viper.GetBool("log.json") {
		config = zap.NewProductionConfig()
	}

	switch level {
	case logger.ErrorLevel:
		config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case logger.WarnLevel:
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case logger.InfoLevel:
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	l, err := config.Build()
	if err != nil {
		return nil, nil, err
	}

	logFunc := logger.NewZapLogFunc(l)
	if level != logger.TraceLevel {
		// zap has no trace level, drop trace entries unless asked for
		next := logFunc
		logFunc = func(payload logger.LogPayload) {
			if payload.Level == logger.TraceLevel {
				return
			}
			next(payload)
		}
	}

	return l, logFunc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
