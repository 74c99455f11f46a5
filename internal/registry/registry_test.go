package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "glucose.csv"),
		[]byte("patient_id,glucose\nP001,98\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lipids.tsv"),
		[]byte("patient_id\tcholesterol\nP001\t180\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("not tabular"), 0o644))

	files, schemas, err := ScanDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []string{"patient_id", "glucose"}, schemas[filepath.Join(dir, "glucose.csv")])
	assert.Equal(t, []string{"patient_id", "cholesterol"}, schemas[filepath.Join(dir, "lipids.tsv")])
}

func TestScanDirNested(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "2026", "january")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "panel.csv"),
		[]byte("a,b\n1,2\n"), 0o644))

	files, _, err := ScanDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestScanDirUnreadableHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.csv"), nil, 0o644))

	files, schemas, err := ScanDir(dir)
	require.NoError(t, err)
	// Listed without a schema.
	assert.Len(t, files, 1)
	assert.NotContains(t, schemas, filepath.Join(dir, "empty.csv"))
}

func TestRegistryUpdateAndQuery(t *testing.T) {
	r := New()
	assert.Empty(t, r.List())

	r.Update([]string{"/data/a.csv"}, map[string][]string{
		"/data/a.csv": {"glucose", "patient_id"},
	})

	assert.Equal(t, []string{"/data/a.csv"}, r.List())
	assert.Equal(t, []string{"glucose", "patient_id"}, r.Schemas()["/data/a.csv"])
	assert.Equal(t, []string{"glucose", "patient_id"}, r.AllColumns())
}

func TestRegistryCopiesAreIsolated(t *testing.T) {
	r := New()
	r.Update([]string{"/data/a.csv"}, map[string][]string{"/data/a.csv": {"x"}})

	list := r.List()
	list[0] = "mutated"
	assert.Equal(t, []string{"/data/a.csv"}, r.List())

	schemas := r.Schemas()
	schemas["/data/a.csv"][0] = "mutated"
	assert.Equal(t, []string{"x"}, r.Schemas()["/data/a.csv"])
}
