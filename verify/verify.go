// Package verify is the high-level entry point: it loads a configuration,
// builds verification engines for annotated source files, and fans file
// processing out over a worker pool.
package verify

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/veristub-labs/veristub/internal"
	"github.com/veristub-labs/veristub/internal/exec"
	"github.com/veristub-labs/veristub/scanner"
)

const maxShowRecentFiles = 25

// Verifier checks every contracted function and harness in one annotated
// source file or source buffer.
type Verifier interface {
	RunFile(ctx context.Context, filePath string) ([]internal.Report, error)
	RunSource(ctx context.Context, source []byte) ([]internal.Report, error)
}

// Runner builds a fresh engine per program snapshot from one shared
// configuration.
type Runner struct {
	opts  internal.Options
	log   *zap.Logger
	cache *internal.Cache
}

// New loads the configuration file and returns a Runner. An empty
// configuration path yields the default options.
func New(configurationPath string, logger *zap.Logger) (*Runner, error) {
	var config Config
	if configurationPath != "" {
		var err error
		config, err = LoadConfig(configurationPath)
		if err != nil {
			return nil, err
		}
	}

	runner := NewWithOptions(config.Options(), logger)
	if config.CacheDir != "" {
		cache, err := internal.NewCache(config.CacheDir, optionsFingerprint(runner.opts))
		if err != nil {
			return nil, err
		}
		runner.cache = cache
	}
	return runner, nil
}

// NewWithOptions returns a Runner with explicit options, bypassing the
// configuration file.
func NewWithOptions(opts internal.Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{opts: opts, log: logger}
}

func (r *Runner) RunFile(ctx context.Context, filePath string) ([]internal.Report, error) {
	if r.cache != nil {
		if reports, ok := r.cache.Get(filePath); ok {
			r.log.Debug("cache hit", zap.String("file", filePath))
			return reports, nil
		}
	}

	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	prog, specErrs, err := internal.LoadNamedSource(filePath, src)
	if err != nil {
		return nil, err
	}
	for _, se := range specErrs {
		r.log.Warn("spec error", zap.String("file", filePath), zap.String("error", se.Error()))
	}

	engine, err := internal.NewEngine(prog, r.opts, r.log)
	if err != nil {
		return nil, err
	}
	reports, err := engine.RunAll(ctx)
	if err != nil {
		return nil, err
	}

	skips := internal.ParseSkipComments(splitLines(src))
	reports = skips.FilterReports(reports)

	if r.cache != nil {
		if err := r.cache.Set(filePath, reports); err != nil {
			r.log.Warn("failed to update cache", zap.String("file", filePath), zap.Error(err))
		}
	}
	return reports, nil
}

func (r *Runner) RunSource(ctx context.Context, source []byte) ([]internal.Report, error) {
	prog, specErrs, err := internal.LoadSource(source)
	if err != nil {
		return nil, err
	}
	for _, se := range specErrs {
		r.log.Warn("spec error", zap.String("error", se.Error()))
	}

	engine, err := internal.NewEngine(prog, r.opts, r.log)
	if err != nil {
		return nil, err
	}
	reports, err := engine.RunAll(ctx)
	if err != nil {
		return nil, err
	}

	skips := internal.ParseSkipComments(splitLines(source))
	return skips.FilterReports(reports), nil
}

func splitLines(source []byte) []string {
	return strings.Split(string(source), "\n")
}

func optionsFingerprint(opts internal.Options) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(fmt.Sprintf("%+v", opts))))
}

func ProcessSources(
	ctx context.Context,
	logger *zap.Logger,
	verifier Verifier,
	sources [][]byte,
	processor func(context.Context, Verifier, []byte) ([]internal.Report, error),
) ([]internal.Report, error) {
	var allReports []internal.Report
	for i, source := range sources {
		reports, err := processor(ctx, verifier, source)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing source", zap.Int("source", i), zap.Error(err))
			}
			return nil, err
		}
		allReports = append(allReports, reports...)
	}

	return allReports, nil
}

func ProcessFiles(
	ctx context.Context,
	logger *zap.Logger,
	verifier Verifier,
	paths []string,
	processor func(context.Context, Verifier, string) ([]internal.Report, error),
) ([]internal.Report, error) {
	var allReports []internal.Report
	for _, path := range paths {
		reports, err := ProcessPath(ctx, logger, verifier, path, processor)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing path", zap.String("path", path), zap.Error(err))
			}
			return nil, err
		}
		allReports = append(allReports, reports...)
	}

	return allReports, nil
}

func ProcessPath(
	ctx context.Context,
	logger *zap.Logger,
	verifier Verifier,
	path string,
	processor func(context.Context, Verifier, string) ([]internal.Report, error),
) ([]internal.Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}

	var reports []internal.Report
	if info.IsDir() {
		found, err := scanner.New(path, internal.SourceExtension).Scan()
		if err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", path, err)
		}
		files := make([]string, 0, len(found))
		for _, fi := range found {
			files = append(files, fi.Path)
		}

		// mutex for recent files
		var recentFilesMutex sync.Mutex
		recentFiles := make([]string, maxShowRecentFiles)

		// make space for recent files
		for i := 0; i < maxShowRecentFiles+1; i++ {
			fmt.Println()
		}
		fmt.Printf("\033[%dA", maxShowRecentFiles+1)

		// one outcome per file keeps a failed file's error paired with
		// its own (absent) reports
		type fileOutcome struct {
			reports []internal.Report
			err     error
		}
		outcomes := make(chan fileOutcome, len(files))

		// limit the number of workers
		maxWorkers := runtime.NumCPU()
		sem := make(chan struct{}, maxWorkers)

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription(path),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))

		// update recent files
		updateRecentFiles := func(filename string) {
			recentFilesMutex.Lock()
			defer recentFilesMutex.Unlock()

			// update the list
			for j := maxShowRecentFiles - 1; j > 0; j-- {
				recentFiles[j] = recentFiles[j-1]
			}
			recentFiles[0] = filename

			// move the cursor up
			fmt.Printf("\033[%dA", maxShowRecentFiles)

			// print the list
			for j := range recentFiles {
				if recentFiles[j] != "" {
					// \033[2k: clear the line
					// \r: move the cursor to the beginning of the line
					fmt.Printf("\033[2K\r%s\n", recentFiles[j])
				} else {
					fmt.Printf("\033[2K\r\n")
				}
			}
		}

		// for each file, run a goroutine
		for _, filePath := range files {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				sem <- struct{}{}
				go func(fp string) {
					defer func() { <-sem }()

					// show the start of file processing
					updateRecentFiles(filepath.Base(fp))

					fileReports, err := processor(ctx, verifier, fp)
					if err != nil && logger != nil {
						logger.Error("Error processing file", zap.String("file", fp), zap.Error(err))
					}
					outcomes <- fileOutcome{reports: fileReports, err: err}
					bar.Add(1)
				}(filePath)
			}
		}

		// collect all results; a failed file only drops its own reports
		for range files {
			o := <-outcomes
			if o.err != nil {
				continue
			}
			reports = append(reports, o.reports...)
		}

		fmt.Println()
		return reports, nil
	} else if hasDesiredExtension(path) {
		fileReports, err := processor(ctx, verifier, path)
		if err != nil {
			return nil, err
		}
		reports = append(reports, fileReports...)
	}

	return reports, nil
}

func ProcessFile(ctx context.Context, verifier Verifier, filePath string) ([]internal.Report, error) {
	return verifier.RunFile(ctx, filePath)
}

func ProcessSource(ctx context.Context, verifier Verifier, source []byte) ([]internal.Report, error) {
	return verifier.RunSource(ctx, source)
}

func hasDesiredExtension(path string) bool {
	return filepath.Ext(path) == internal.SourceExtension
}

// Config is the YAML shape of a verification run: which backend to use,
// how far to unwind, the input domain, and which call sites to stub.
type Config struct {
	Name          string            `yaml:"name"`
	Solver        string            `yaml:"solver"`
	CacheDir      string            `yaml:"cache-dir"`
	Unwind        int               `yaml:"unwind"`
	MaxDepth      int               `yaml:"max-depth"`
	LoopContracts *bool             `yaml:"loop-contracts"`
	Domain        DomainConfig      `yaml:"domain"`
	Stubs         map[string]string `yaml:"stubs"`
}

// DomainConfig bounds the values enumerated for havocked scalars.
type DomainConfig struct {
	IntMin  int64  `yaml:"int-min"`
	IntMax  int64  `yaml:"int-max"`
	UintMax uint64 `yaml:"uint-max"`
}

// Options lowers the configuration into engine options.
func (c Config) Options() internal.Options {
	loopContracts := true
	if c.LoopContracts != nil {
		loopContracts = *c.LoopContracts
	}
	return internal.Options{
		LoopContracts: loopContracts,
		Solver:        c.Solver,
		Stubs:         c.Stubs,
		Exec: exec.Options{
			Unwind:   c.Unwind,
			IntMin:   c.Domain.IntMin,
			IntMax:   c.Domain.IntMax,
			UintMax:  int64(c.Domain.UintMax),
			MaxDepth: c.MaxDepth,
		},
	}
}

// LoadConfig reads and decodes a configuration file.
func LoadConfig(configurationPath string) (Config, error) {
	var config Config

	// Read the configuration file
	f, err := os.Open(configurationPath)
	if err != nil {
		return config, err
	}
	defer f.Close()

	// Parse the configuration file
	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
