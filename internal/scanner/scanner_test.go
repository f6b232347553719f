package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DigestCurator/internal/domain"
)

type stubScanner string

func (s stubScanner) Name() string { return string(s) }

func (s stubScanner) Scan(context.Context, Request) ([]domain.Article, error) { return nil, nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(stubScanner("rss"), stubScanner("arxiv"))

	got, err := reg.Resolve("rss")
	require.NoError(t, err)
	assert.Equal(t, "rss", got.Name())

	_, err = reg.Resolve("podcast")
	require.ErrorIs(t, err, ErrUnknownScanner)
	assert.Contains(t, err.Error(), `"podcast"`)

	assert.Equal(t, []string{"arxiv", "rss"}, reg.Names())
}

func TestRegistryZeroValueAcceptsRegistration(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(stubScanner("rss"))
	_, err := reg.Resolve("rss")
	require.NoError(t, err)
}
