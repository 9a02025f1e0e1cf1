package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
sources:
  uhc:
    fetcher:
      type: link_page
      url: https://example.org/policies
`))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Agent.MaxConcurrentJobs)
	assert.Equal(t, time.Minute, cfg.Agent.TickInterval)
	assert.True(t, cfg.Agent.AutoScheduleEnabled())
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, 5000, cfg.Sync.MaxNameAttempts)
	assert.Equal(t, ".pdf", cfg.Sync.DefaultExtension)

	src := cfg.Sources["uhc"]
	assert.True(t, src.IsEnabled())
	assert.Equal(t, "uhc", src.OutputDir)
	assert.Equal(t, "url", src.Strategy)
	assert.Equal(t, CadenceWeekly, src.Schedule.Cadence)
	assert.Equal(t, ".pdf", src.Fetcher.LinkSuffix)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("DOC_SYNCER_DB_PASSWORD", "secret")

	cfg, err := Parse([]byte(`
database:
  host: localhost
  port: 5432
  user: syncer
  password: ${DOC_SYNCER_DB_PASSWORD}
  dbname: docs
  sslmode: disable
`))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Contains(t, cfg.Database.DSN(), "password=secret")
}

func TestParseRejectsInvalidSources(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown cadence",
			yaml: `
sources:
  a:
    schedule: {cadence: hourly}
    fetcher: {type: link_page, url: http://x}
`,
		},
		{
			name: "cron without expression",
			yaml: `
sources:
  a:
    schedule: {cadence: cron}
    fetcher: {type: link_page, url: http://x}
`,
		},
		{
			name: "unknown fetcher",
			yaml: `
sources:
  a:
    fetcher: {type: ftp, url: http://x}
`,
		},
		{
			name: "missing url",
			yaml: `
sources:
  a:
    fetcher: {type: json_listing}
`,
		},
		{
			name: "unknown backend",
			yaml: `
storage: {backend: s3}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDisabledSource(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  auto_schedule: false
sources:
  b:
    enabled: false
    fetcher: {type: link_page, url: http://x}
  a:
    fetcher: {type: link_page, url: http://y}
`))
	require.NoError(t, err)

	assert.False(t, cfg.Agent.AutoScheduleEnabled())
	assert.False(t, cfg.Sources["b"].IsEnabled())
	assert.Equal(t, []string{"a", "b"}, cfg.SourceIDs())
}
