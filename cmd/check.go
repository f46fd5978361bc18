package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/formatter"
	"github.com/veristub-labs/veristub/internal"
	"github.com/veristub-labs/veristub/verify"
)

var (
	solver          string
	unwind          int
	noLoopContracts bool
	stubPairs       []string
	checkJsonOutput bool
	outPath         string
	showPassing     bool
	checkTarget     string
)

var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Check every contract and harness in the given files",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Println("error: Please provide file or directory paths")
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		config, err := loadConfig(cmd)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}

		if checkTarget != "" {
			runCheckTarget(ctx, logger, config, args, checkTarget)
			return
		}

		runner := verify.NewWithOptions(config.Options(), logger)
		runCheckProcess(ctx, logger, runner, args, checkJsonOutput, outPath)
	},
}

// runCheckTarget verifies one named target: a contracted function is
// checked against its own body, a harness is run with its stubs trusted.
func runCheckTarget(ctx context.Context, logger *zap.Logger, config verify.Config, paths []string, target string) {
	if len(paths) != 1 {
		fmt.Println("error: --target takes exactly one file path")
		os.Exit(1)
	}

	prog, specErrs, err := internal.LoadFile(paths[0])
	if err != nil {
		logger.Fatal("Failed to load file", zap.String("file", paths[0]), zap.Error(err))
	}
	for _, se := range specErrs {
		logger.Warn("spec error", zap.String("error", se.Error()))
	}

	engine, err := internal.NewEngine(prog, config.Options(), logger)
	if err != nil {
		logger.Fatal("Failed to build engine", zap.Error(err))
	}

	fn, ok := prog.Func(target)
	if !ok {
		logger.Fatal("Target not found", zap.String("target", target))
	}

	var rep internal.Report
	if fn.Harness {
		rep, err = engine.VerifyHarness(ctx, target)
	} else {
		rep, err = engine.CheckContract(ctx, target)
	}
	if err != nil {
		logger.Fatal("Verification failed", zap.String("target", target), zap.Error(err))
	}

	printReports(logger, []internal.Report{rep}, checkJsonOutput, outPath)
	if rep.Failed() {
		os.Exit(1)
	}
}

func init() {
	checkCmd.Flags().StringVar(&solver, "solver", "", "Backend to use (enumerate or z3)")
	checkCmd.Flags().IntVar(&unwind, "unwind", 0, "Loop and recursion unwinding bound")
	checkCmd.Flags().BoolVar(&noLoopContracts, "no-loop-contracts", false, "Unroll loops instead of abstracting them")
	checkCmd.Flags().StringSliceVar(&stubPairs, "stub", nil, "Replace calls, as callee=replacement (repeatable)")
	checkCmd.Flags().BoolVar(&checkJsonOutput, "json", false, "Output results in JSON format")
	checkCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output path (when using JSON)")
	checkCmd.Flags().BoolVar(&showPassing, "show-passing", false, "Show passing obligations, not just failures")
	checkCmd.Flags().StringVar(&checkTarget, "target", "", "Verify only this function or harness")
}

// loadConfig merges the configuration file with command-line overrides.
func loadConfig(cmd *cobra.Command) (verify.Config, error) {
	var config verify.Config
	if cfgFile != "" {
		var err error
		config, err = verify.LoadConfig(cfgFile)
		if err != nil {
			return config, err
		}
	}

	if cmd.Flags().Changed("solver") {
		config.Solver = solver
	}
	if cmd.Flags().Changed("unwind") {
		config.Unwind = unwind
	}
	if noLoopContracts {
		off := false
		config.LoopContracts = &off
	}
	for _, pair := range stubPairs {
		callee, replacement, ok := strings.Cut(pair, "=")
		if !ok {
			return config, fmt.Errorf("invalid stub %q: want callee=replacement", pair)
		}
		if config.Stubs == nil {
			config.Stubs = make(map[string]string)
		}
		config.Stubs[strings.TrimSpace(callee)] = strings.TrimSpace(replacement)
	}

	return config, nil
}

func runCheckProcess(ctx context.Context, logger *zap.Logger, runner verify.Verifier, paths []string, isJson bool, jsonOutput string) {
	reports, err := verify.ProcessFiles(ctx, logger, runner, paths, verify.ProcessFile)
	if err != nil {
		logger.Error("Error processing files", zap.Error(err))
		os.Exit(1)
	}

	printReports(logger, reports, isJson, jsonOutput)

	for _, rep := range reports {
		if rep.Failed() {
			os.Exit(1)
		}
	}
}

func printReports(logger *zap.Logger, reports []internal.Report, isJson bool, jsonOutput string) {
	reportsByFile := make(map[string][]internal.Report)
	for _, rep := range reports {
		reportsByFile[reportFilename(rep)] = append(reportsByFile[reportFilename(rep)], rep)
	}

	sortedFiles := make([]string, 0, len(reportsByFile))
	for filename := range reportsByFile {
		sortedFiles = append(sortedFiles, filename)
	}
	sort.Strings(sortedFiles)

	if !isJson {
		// text output
		for _, filename := range sortedFiles {
			fileReports := reportsByFile[filename]
			sourceCode, err := internal.ReadSourceCode(filename)
			if err != nil {
				logger.Error("Error reading source file", zap.String("file", filename), zap.Error(err))
				continue
			}
			output := formatter.FormatReports(fileReports, sourceCode, showPassing)
			fmt.Println(output)
		}
	} else {
		// JSON output
		d, err := json.Marshal(reportsByFile)
		if err != nil {
			logger.Error("Error marshalling reports to JSON", zap.Error(err))
			return
		}
		if jsonOutput == "" {
			fmt.Println(string(d))
		} else {
			f, err := os.Create(jsonOutput)
			if err != nil {
				logger.Error("Error creating JSON output file", zap.Error(err))
				return
			}
			defer f.Close()
			_, err = f.Write(d)
			if err != nil {
				logger.Error("Error writing JSON output file", zap.Error(err))
				return
			}
		}
	}
}

// reportFilename picks the file a report's obligations point into.
func reportFilename(rep internal.Report) string {
	for _, res := range rep.Results {
		if res.Obligation.Site.Filename != "" {
			return res.Obligation.Site.Filename
		}
	}
	return ""
}
