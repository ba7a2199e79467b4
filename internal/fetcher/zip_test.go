package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeZIP builds an archive from ordered name/content pairs. A name ending
// in "/" becomes a directory entry.
func writeZIP(t *testing.T, entries ...string) string {
	t.Helper()
	require.Zero(t, len(entries)%2, "entries must be name/content pairs")

	p := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for i := 0; i < len(entries); i += 2 {
		fw, err := w.Create(entries[i])
		require.NoError(t, err)
		_, err = fw.Write([]byte(entries[i+1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return p
}

func TestExtractZIP_DistrictBundle(t *testing.T) {
	p := writeZIP(t,
		"districts/", "",
		"districts/india.shp", "shp",
		"districts/india.dbf", "dbf",
		"districts/india.csv", "state,district,latitude,longitude\n",
	)

	dest := t.TempDir()
	files, err := ExtractZIP(p, dest)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dest, "districts", "india.shp"), files[0])

	data, err := os.ReadFile(filepath.Join(dest, "districts", "india.dbf"))
	require.NoError(t, err)
	assert.Equal(t, "dbf", string(data))
}

func TestExtractZIP_SkipsResourceForks(t *testing.T) {
	p := writeZIP(t,
		"__MACOSX/districts/._india.csv", "fork",
		"districts/._india.csv", "fork",
		"districts/.DS_Store", "junk",
		"districts/india.csv", "state,district,latitude,longitude\n",
	)

	dest := t.TempDir()
	files, err := ExtractZIP(p, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "districts", "india.csv")}, files)

	_, err = os.Stat(filepath.Join(dest, "__MACOSX"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractZIP_RejectsEscapingEntries(t *testing.T) {
	p := writeZIP(t, "../../outside.csv", "nope")

	dest := filepath.Join(t.TempDir(), "a", "b")
	files, err := ExtractZIP(p, dest)
	require.Error(t, err)
	assert.Empty(t, files)
	assert.NoFileExists(t, filepath.Join(dest, "..", "..", "outside.csv"))
}

func TestExtractZIP_NotAnArchive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "districts.zip")
	require.NoError(t, os.WriteFile(p, []byte("state,district\n"), 0o644))

	_, err := ExtractZIP(p, t.TempDir())
	assert.Error(t, err)
}

func TestFindByExt(t *testing.T) {
	files := []string{"/tmp/ref/india.dbf", "/tmp/ref/india.SHP", "/tmp/ref/india.csv"}

	p, ok := FindByExt(files, ".shp")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/ref/india.SHP", p)

	p, ok = FindByExt(files, ".csv")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/ref/india.csv", p)

	_, ok = FindByExt(files, ".xlsx")
	assert.False(t, ok)
}

func TestSkipEntry(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"india.csv", false},
		{"districts/india.csv", false},
		{"__MACOSX/india.csv", true},
		{"districts/__MACOSX/x", true},
		{"._india.csv", true},
		{`districts\.hidden`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, skipEntry(tt.name))
		})
	}
}
