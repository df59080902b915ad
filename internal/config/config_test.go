package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/gdelt"
)

func TestFromViperDefaults(t *testing.T) {
	cfg := FromViper(viper.New())

	assert.Equal(t, "./data/gdelt", cfg.App.DownloadDir)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, gdelt.DefaultDailyBaseURL, cfg.Source.DailyBaseURL)
	assert.Equal(t, 2006, cfg.Source.YearlyThreshold)
	assert.Equal(t, 1024, cfg.HTTP.ChunkSize)
	assert.Equal(t, 15*time.Second, cfg.Pacing.Interval)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "0 10 * * *", cfg.Schedule.Cron)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestFromViperEnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_DOWNLOAD_DIR", "/srv/gdelt")
	t.Setenv("PACING_INTERVAL_SECONDS", "0")
	t.Setenv("STORAGE_DRIVER", "MINIO")
	t.Setenv("STORAGE_BUCKET", "events")
	t.Setenv("CACHE_ENABLED", "true")
	t.Setenv("GDELT_YEARLY_THRESHOLD", "2000")

	v := viper.New()
	v.AutomaticEnv()
	cfg := FromViper(v)

	assert.Equal(t, "/srv/gdelt", cfg.App.DownloadDir)
	assert.Equal(t, time.Duration(0), cfg.Pacing.Interval)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, "events", cfg.Storage.Bucket)
	assert.True(t, cfg.Cache.Enabled)

	src := cfg.GDELTSource()
	assert.Equal(t, 2000, src.YearlyThreshold)
	refs, err := src.BackfileRefs(2000)
	assert.NoError(t, err)
	assert.Len(t, refs, 12)
}
