package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func indexDoc(name string, columns ...string) Document {
	return Document{
		Text: name,
		Metadata: DocumentMetadata{
			FilePath: "/data/" + name,
			FileName: name,
			Columns:  columns,
		},
	}
}

func TestKeywordSearchWithoutEmbedder(t *testing.T) {
	ix := NewIndex(nil, zap.NewNop())
	require.NoError(t, ix.Add(context.Background(),
		indexDoc("glucose_levels.csv", "glucose"),
		indexDoc("lipid_panel.csv", "cholesterol"),
	))
	require.Equal(t, 2, ix.Len())

	docs, err := ix.Search(context.Background(), "glucose distribution", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "glucose_levels.csv", docs[0].Metadata.FileName)
}

func TestEmbeddingSearchRanksBySimilarity(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"glucose_levels.csv": {1, 0, 0},
		"lipid_panel.csv":    {0, 1, 0},
		"sugar levels":       {0.9, 0.1, 0},
	}}
	ix := NewIndex(embedder, zap.NewNop())
	require.NoError(t, ix.Add(context.Background(),
		indexDoc("glucose_levels.csv"),
		indexDoc("lipid_panel.csv"),
	))

	docs, err := ix.Search(context.Background(), "sugar levels", 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "glucose_levels.csv", docs[0].Metadata.FileName)
}

func TestEmbedderFailureFallsBackToKeywords(t *testing.T) {
	ix := NewIndex(&fakeEmbedder{err: errors.New("service down")}, zap.NewNop())
	require.NoError(t, ix.Add(context.Background(), indexDoc("glucose_levels.csv", "glucose")))

	docs, err := ix.Search(context.Background(), "glucose", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSearchTruncatesToK(t *testing.T) {
	ix := NewIndex(nil, zap.NewNop())
	require.NoError(t, ix.Add(context.Background(),
		indexDoc("glucose_a.csv"),
		indexDoc("glucose_b.csv"),
		indexDoc("glucose_c.csv"),
	))

	docs, err := ix.Search(context.Background(), "glucose", 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = ix.Search(context.Background(), "glucose", 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReset(t *testing.T) {
	ix := NewIndex(nil, zap.NewNop())
	require.NoError(t, ix.Add(context.Background(), indexDoc("a.csv")))
	ix.Reset()
	assert.Zero(t, ix.Len())
}
