package cmd

import (
	"fmt"

	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/veristub-labs/veristub/verify"
)

// initCmd: veristub init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new verification configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := initConfigurationFile(cfgFile); err != nil {
			logger.Error("Error initializing config file", zap.Error(err))
			return
		}
		fmt.Printf("Configuration file created/updated: %s\n", cfgFile)
	},
}

func initConfigurationFile(configurationPath string) error {
	if configurationPath == "" {
		configurationPath = ".veristub.yaml"
	}

	loopContracts := true
	config := verify.Config{
		Name:          "veristub",
		Solver:        "enumerate",
		Unwind:        12,
		LoopContracts: &loopContracts,
		Domain: verify.DomainConfig{
			IntMin:  -3,
			IntMax:  3,
			UintMax: 4,
		},
		Stubs: map[string]string{},
	}
	d, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	f, err := os.Create(configurationPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(d)
	if err != nil {
		return err
	}

	return nil
}
