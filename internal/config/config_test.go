package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	for _, k := range []string{
		"CLOUDKIT_PROVIDER", "CLOUDKIT_LISTEN_ADDR", "CLOUDKIT_LOCALFS_DIR",
		"CLOUDKIT_ONEDRIVE_CLIENT_ID", "CLOUDKIT_S3_BUCKET",
		"CLOUDKIT_MEGA_EMAIL", "CLOUDKIT_MEGA_PASSWORD",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	require.Equal(t, "mock", cfg.Provider)
	require.Equal(t, "127.0.0.1:8088", cfg.ListenAddr)
	require.Equal(t, "./data", cfg.LocalfsDir)
	require.Empty(t, cfg.OneDriveClientID)
}

func TestLoad_ReadsOverrides(t *testing.T) {
	t.Setenv("CLOUDKIT_PROVIDER", "s3")
	t.Setenv("CLOUDKIT_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("CLOUDKIT_S3_BUCKET", "my-bucket")

	cfg := Load()
	require.Equal(t, "s3", cfg.Provider)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	require.Equal(t, "my-bucket", cfg.S3Bucket)
}
