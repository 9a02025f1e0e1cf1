package registry

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc_syncer/internal/config"
	"doc_syncer/internal/domain"
	"doc_syncer/internal/source/web"
	"doc_syncer/internal/strategy"
)

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func TestBuildResolvesSources(t *testing.T) {
	cfg := testConfig(t, `
sources:
  humana:
    strategy: title_date
    fetcher: {type: json_listing, url: https://example.org/api}
    params: {lob: medical}
  uhc:
    fetcher: {type: link_page, url: https://example.org/policies}
  legacy:
    enabled: false
    strategy: filename
    fetcher: {type: link_page, url: https://example.org/old}
`)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := Build(cfg, web.NewClient(web.ClientConfig{}, logger), logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"humana", "legacy", "uhc"}, r.IDs())

	humana, err := r.Lookup("humana")
	require.NoError(t, err)
	assert.Equal(t, strategy.TitleDate, humana.Source.Strategy.Name())
	assert.IsType(t, &web.Listing{}, humana.Source.Fetcher)
	assert.Equal(t, "humana", humana.Source.OutputDir)
	assert.Equal(t, map[string]string{"lob": "medical"}, humana.Params)

	uhc, err := r.Lookup("uhc")
	require.NoError(t, err)
	assert.Equal(t, strategy.URLKeyed, uhc.Source.Strategy.Name())
	assert.IsType(t, &web.LinkPage{}, uhc.Source.Fetcher)

	_, err = r.Lookup("legacy")
	assert.True(t, errors.Is(err, domain.ErrSourceDisabled))
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	_, err = r.Lookup("nope")
	assert.True(t, errors.Is(err, domain.ErrSourceNotFound))

	legacy, ok := r.Get("legacy")
	assert.True(t, ok)
	assert.False(t, legacy.Enabled)
}

func TestBuildRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig(t, `
sources:
  x:
    strategy: checksum
    fetcher: {type: link_page, url: https://example.org}
`)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Build(cfg, web.NewClient(web.ClientConfig{}, logger), logger)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
