package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veristub-labs/veristub/internal"
)

const passingSource = `fn max(a int, b int) int
requires true
ensures (result >= a) && (result >= b)
{
	if a >= b {
		return a
	}
	return b
}
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".veristub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: demo
solver: enumerate
unwind: 6
max-depth: 8
loop-contracts: false
domain:
  int-min: -2
  int-max: 2
  uint-max: 3
stubs:
  sqrt: sqrt_stub
`), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", config.Name)
	assert.Equal(t, "enumerate", config.Solver)
	assert.Equal(t, 6, config.Unwind)
	assert.Equal(t, 8, config.MaxDepth)
	require.NotNil(t, config.LoopContracts)
	assert.False(t, *config.LoopContracts)
	assert.Equal(t, int64(-2), config.Domain.IntMin)
	assert.Equal(t, int64(2), config.Domain.IntMax)
	assert.Equal(t, uint64(3), config.Domain.UintMax)
	assert.Equal(t, map[string]string{"sqrt": "sqrt_stub"}, config.Stubs)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestConfigOptionsLowering(t *testing.T) {
	t.Parallel()

	opts := Config{}.Options()
	assert.True(t, opts.LoopContracts, "loop contracts default on")

	off := false
	opts = Config{
		Solver:        "enumerate",
		Unwind:        6,
		MaxDepth:      8,
		LoopContracts: &off,
		Domain:        DomainConfig{IntMin: -2, IntMax: 2, UintMax: 3},
	}.Options()
	assert.False(t, opts.LoopContracts)
	assert.Equal(t, 6, opts.Exec.Unwind)
	assert.Equal(t, 8, opts.Exec.MaxDepth)
	assert.Equal(t, int64(-2), opts.Exec.IntMin)
	assert.Equal(t, int64(2), opts.Exec.IntMax)
	assert.Equal(t, int64(3), opts.Exec.UintMax)
}

func TestRunSource(t *testing.T) {
	t.Parallel()

	runner := NewWithOptions(Config{}.Options(), zap.NewNop())
	reports, err := runner.RunSource(context.Background(), []byte(passingSource))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "max", reports[0].Target)
	assert.False(t, reports[0].Failed())
}

func TestRunSourceSkipDirective(t *testing.T) {
	t.Parallel()

	failing := `fn ident(x int) int
ensures result == x + 1
{
	return x
}
`
	runner := NewWithOptions(Config{}.Options(), zap.NewNop())

	reports, err := runner.RunSource(context.Background(), []byte(failing))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Failed())

	suppressed := `fn ident(x int) int
ensures result == x + 1 //skip
{
	return x
}
`
	reports, err = runner.RunSource(context.Background(), []byte(suppressed))
	require.NoError(t, err)
	assert.Empty(t, reports, "every obligation of the contract is suppressed")
}

func TestRunFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "max"+internal.SourceExtension)
	require.NoError(t, os.WriteFile(path, []byte(passingSource), 0644))

	runner := NewWithOptions(Config{}.Options(), zap.NewNop())
	reports, err := runner.RunFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Failed())

	for _, res := range reports[0].Results {
		assert.Equal(t, path, res.Obligation.Site.Filename)
	}
}

func TestRunFileWithCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "max"+internal.SourceExtension)
	require.NoError(t, os.WriteFile(srcPath, []byte(passingSource), 0644))

	cfgPath := filepath.Join(dir, ".veristub.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("cache-dir: "+filepath.Join(dir, "cache")+"\n"), 0644))

	runner, err := New(cfgPath, zap.NewNop())
	require.NoError(t, err)

	first, err := runner.RunFile(context.Background(), srcPath)
	require.NoError(t, err)
	second, err := runner.RunFile(context.Background(), srcPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProcessFilesSingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "max"+internal.SourceExtension)
	require.NoError(t, os.WriteFile(path, []byte(passingSource), 0644))

	runner := NewWithOptions(Config{}.Options(), zap.NewNop())
	reports, err := ProcessFiles(context.Background(), zap.NewNop(), runner, []string{path}, ProcessFile)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "max", reports[0].Target)
}

func TestProcessPathDirectoryKeepsHealthyFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "max"+internal.SourceExtension)
	require.NoError(t, os.WriteFile(good, []byte(passingSource), 0644))
	bad := filepath.Join(dir, "broken"+internal.SourceExtension)
	require.NoError(t, os.WriteFile(bad, []byte("fn | nonsense"), 0644))

	runner := NewWithOptions(Config{}.Options(), zap.NewNop())
	reports, err := ProcessPath(context.Background(), zap.NewNop(), runner, dir, ProcessFile)
	require.NoError(t, err)
	require.Len(t, reports, 1, "the unreadable file drops only its own reports")
	assert.Equal(t, "max", reports[0].Target)
	assert.False(t, reports[0].Failed())
}

func TestProcessPathIgnoresOtherExtensions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a source file"), 0644))

	runner := NewWithOptions(Config{}.Options(), zap.NewNop())
	reports, err := ProcessPath(context.Background(), zap.NewNop(), runner, path, ProcessFile)
	require.NoError(t, err)
	assert.Empty(t, reports)
}
