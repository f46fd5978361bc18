package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/internal"
)

var obligationTarget string

// obligationsCmd lists the proof obligations a transformation would
// produce, without running the checker.
var obligationsCmd = &cobra.Command{
	Use:   "obligations [path]",
	Short: "List the proof obligations for a file without checking them",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			fmt.Println("error: Please provide exactly one file path")
			os.Exit(1)
		}

		config, err := loadConfig(cmd)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}

		prog, specErrs, err := internal.LoadFile(args[0])
		if err != nil {
			logger.Fatal("Failed to load file", zap.String("file", args[0]), zap.Error(err))
		}
		for _, se := range specErrs {
			logger.Warn("spec error", zap.String("error", se.Error()))
		}

		engine, err := internal.NewEngine(prog, config.Options(), logger)
		if err != nil {
			logger.Fatal("Failed to build engine", zap.Error(err))
		}

		targets := prog.Contracted()
		targets = append(targets, prog.Harnesses()...)
		if obligationTarget != "" {
			targets = []string{obligationTarget}
		}

		for _, target := range targets {
			obs, err := engine.Obligations(target)
			if err != nil {
				logger.Error("Failed to derive obligations", zap.String("target", target), zap.Error(err))
				continue
			}
			fmt.Printf("%s:\n", target)
			for _, ob := range obs {
				fmt.Printf("  %s\n", ob.ID())
			}
		}
	},
}

func init() {
	obligationsCmd.Flags().StringVar(&obligationTarget, "target", "", "Only list obligations for this function or harness")
	obligationsCmd.Flags().StringSliceVar(&stubPairs, "stub", nil, "Replace calls, as callee=replacement (repeatable)")
	obligationsCmd.Flags().BoolVar(&noLoopContracts, "no-loop-contracts", false, "Unroll loops instead of abstracting them")
}
