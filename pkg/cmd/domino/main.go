// Command domino detects block model communities in graphs.
//
//	domino detect -i graph.txt --mode signed --dc -o labels.txt
//	domino generate --kind weighted -o graph.txt --truth truth.txt
//	domino serve --addr :8080
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gilchrisn/domino/pkg/detect"
)

var (
	cfg        = detect.NewConfig()
	configFile string
	logger     zerolog.Logger

	rootCmd = &cobra.Command{
		Use:   "domino",
		Short: "BIC-driven block model community detection",
		Long: `domino partitions graphs by fitting stochastic block models
(binary, signed or weighted, optionally degree corrected) and keeping the
partition with the lowest BIC.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := cfg.LoadFromFile(configFile); err != nil {
					return fmt.Errorf("failed to load config %s: %w", configFile, err)
				}
			}
			logger = cfg.CreateLogger()
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	mustBind(cfg.Viper().BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.AddCommand(detectCmd, generateCmd, serveCmd)
}

func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
