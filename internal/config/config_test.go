package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Address)
	require.Equal(t, int64(50<<20), cfg.MaxFileSize)
	require.NotEmpty(t, cfg.SigningSecret)
	require.GreaterOrEqual(t, cfg.ProcessingDelayHi, cfg.ProcessingDelayLo)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEDIALENS_ADDRESS", ":9999")
	t.Setenv("MEDIALENS_MAX_FILE_BYTES", "1024")
	t.Setenv("MEDIALENS_UPLOAD_TICK", "10ms")
	t.Setenv("MEDIALENS_WORKERS", "8")
	t.Setenv("MEDIALENS_ALLOWED_TYPES", "image/, Application/PDF")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Address)
	require.Equal(t, int64(1024), cfg.MaxFileSize)
	require.Equal(t, 10*time.Millisecond, cfg.UploadTick)
	require.Equal(t, 8, cfg.WorkerCount)
	require.Equal(t, []string{"image/", "application/pdf"}, cfg.AllowedTypes)
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("MEDIALENS_MAX_FILE_BYTES", "not-a-number")
	t.Setenv("MEDIALENS_UPLOAD_TICK", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(50<<20), cfg.MaxFileSize)
	require.Equal(t, 200*time.Millisecond, cfg.UploadTick)
}

func TestAllowed(t *testing.T) {
	cfg := &Config{AllowedTypes: []string{"image/", "video/", "audio/", "application/pdf"}}

	require.True(t, cfg.Allowed("image/png"))
	require.True(t, cfg.Allowed("IMAGE/JPEG"))
	require.True(t, cfg.Allowed("application/pdf"))
	require.False(t, cfg.Allowed("application/zip"))
	require.False(t, cfg.Allowed("text/html"))
}
