package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func corpus(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(zap.NewNop())
	ix.Add(Document{
		Filename: "plato_republic.txt",
		Content:  "Justice in the city mirrors justice in the soul. The philosopher king rules wisely.",
	})
	ix.Add(Document{
		Filename: "aurelius_meditations.txt",
		Content:  "You have power over your mind, not outside events. Realize this and find strength.",
	})
	ix.Add(Document{
		Filename: "nietzsche_zarathustra.txt",
		Content:  "Man is a rope stretched between animal and overman. Justice belongs to the strong.",
	})
	return ix
}

func TestSearch_RanksByKeywordOverlap(t *testing.T) {
	ix := corpus(t)

	passages, err := ix.Search(context.Background(), nil, "what is justice in the soul", 3)
	require.NoError(t, err)
	require.NotEmpty(t, passages)

	assert.Equal(t, "plato_republic.txt", passages[0].Source,
		"document matching both 'justice' and 'soul' must rank first")
	for i := 1; i < len(passages); i++ {
		assert.GreaterOrEqual(t, passages[i-1].Score, passages[i].Score)
	}
}

func TestSearch_FilterRestrictsCandidates(t *testing.T) {
	ix := corpus(t)

	passages, err := ix.Search(context.Background(), []string{"aurelius"}, "power and justice and strength", 3)
	require.NoError(t, err)

	for _, p := range passages {
		assert.Contains(t, p.Source, "aurelius",
			"a filtered search must never return passages outside the filter set")
	}
}

func TestSearch_DisjointFilterReturnsNothing(t *testing.T) {
	ix := corpus(t)

	passages, err := ix.Search(context.Background(), []string{"kierkegaard"}, "justice", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestSearch_ShortWordsIgnored(t *testing.T) {
	ix := corpus(t)

	// Every word is <= 3 chars, so there is nothing to search on.
	passages, err := ix.Search(context.Background(), nil, "is it to be", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestSearch_TopKLimit(t *testing.T) {
	ix := corpus(t)

	passages, err := ix.Search(context.Background(), nil, "justice", 1)
	require.NoError(t, err)
	assert.Len(t, passages, 1)
}

func TestSearch_Cancelled(t *testing.T) {
	ix := corpus(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.Search(ctx, nil, "justice", 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hume_enquiry.txt"),
		[]byte("Custom is the great guide of human life."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"),
		[]byte("not part of the corpus"), 0o644))

	ix := NewIndex(zap.NewNop())
	require.NoError(t, ix.LoadDir(dir))
	assert.Equal(t, 1, ix.Len(), "only .txt files belong to the corpus")

	passages, err := ix.Search(context.Background(), nil, "custom guide of life", 3)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "hume_enquiry.txt", passages[0].Source)
}

func TestSnippet_CapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "word "
	}
	ix := NewIndex(zap.NewNop())
	ix.Add(Document{Filename: "long.txt", Content: long + "justice"})

	passages, err := ix.Search(context.Background(), nil, "word justice", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.LessOrEqual(t, len(passages[0].Snippet), len("word ")*snippetWords)
}
