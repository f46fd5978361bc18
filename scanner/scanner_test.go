package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	files := map[string]string{
		"file1.vst":        "fn main() {}",
		"file2.vst":        "harness h() {}",
		"file3.txt":        "This is a text file",
		"subdir/file4.vst": "fn sub() {}",
	}

	for path, content := range files {
		fullPath := filepath.Join(tempDir, path)
		err := os.MkdirAll(filepath.Dir(fullPath), 0o755)
		require.NoError(t, err)
		err = os.WriteFile(fullPath, []byte(content), 0o644)
		require.NoError(t, err)
	}

	scanner := New(tempDir, ".vst")
	scannedFiles, err := scanner.Scan()
	require.NoError(t, err)

	assert.Equal(t, 3, len(scannedFiles), "Should find 3 annotated files")

	foundPaths := make(map[string]bool)
	for _, file := range scannedFiles {
		foundPaths[file.Path] = true
		assert.Greater(t, file.Size, int64(0), "File size should be greater than 0")
	}

	assert.True(t, foundPaths[filepath.Join(tempDir, "file1.vst")], "Should find file1.vst")
	assert.True(t, foundPaths[filepath.Join(tempDir, "file2.vst")], "Should find file2.vst")
	assert.True(t, foundPaths[filepath.Join(tempDir, "subdir/file4.vst")], "Should find subdir/file4.vst")
	assert.False(t, foundPaths[filepath.Join(tempDir, "file3.txt")], "Should not find file3.txt")
}

func TestScannerDeterministicOrder(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	for _, name := range []string{"b.vst", "a.vst", "c.vst"} {
		err := os.WriteFile(filepath.Join(tempDir, name), []byte("fn f() {}"), 0o644)
		require.NoError(t, err)
	}

	scanner := New(tempDir, ".vst")
	scannedFiles, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, scannedFiles, 3)

	assert.Equal(t, filepath.Join(tempDir, "a.vst"), scannedFiles[0].Path)
	assert.Equal(t, filepath.Join(tempDir, "b.vst"), scannedFiles[1].Path)
	assert.Equal(t, filepath.Join(tempDir, "c.vst"), scannedFiles[2].Path)
}
