package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/formatter"
	"github.com/veristub-labs/veristub/internal"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dirs...]",
	Short: "Re-check annotated files whenever they change",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			args = []string{"."}
		}

		config, err := loadConfig(cmd)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}

		watcher, err := internal.NewWatcher(config.Options(), logger)
		if err != nil {
			logger.Fatal("Failed to create watcher", zap.Error(err))
		}
		watcher.OnReports = printWatchReports

		if err := watcher.StartWatching(args); err != nil {
			logger.Fatal("Failed to start watching", zap.Error(err))
		}
		defer watcher.StopWatching()

		fmt.Printf("watching %v for changes...\n", args)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
	},
}

func printWatchReports(filename string, reports []internal.Report) {
	sourceCode, err := internal.ReadSourceCode(filename)
	if err != nil {
		logger.Error("Error reading source file", zap.String("file", filename), zap.Error(err))
		return
	}
	fmt.Println(formatter.FormatReports(reports, sourceCode, showPassing))
}
