// Package config loads cmd/cloudkitd's environment-variable configuration,
// the same flat os.Getenv-with-defaults shape the teacher's
// internal/config/config.go uses for its safes directory/server/OneDrive
// settings — generalized to the provider set cloudkit wires up instead of
// one fixed OneDrive client.
package config

import "os"

// Config holds every setting cmd/cloudkitd reads from its environment.
type Config struct {
	Provider   string
	ListenAddr string

	LocalfsDir string

	OneDriveClientID string

	S3Bucket string

	MegaEmail    string
	MegaPassword string
}

// Load reads Config from the environment, applying the same defaults the
// teacher's Load does for anything left unset.
func Load() *Config {
	provider := os.Getenv("CLOUDKIT_PROVIDER")
	if provider == "" {
		provider = "mock"
	}

	listenAddr := os.Getenv("CLOUDKIT_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8088"
	}

	localfsDir := os.Getenv("CLOUDKIT_LOCALFS_DIR")
	if localfsDir == "" {
		localfsDir = "./data"
	}

	return &Config{
		Provider:         provider,
		ListenAddr:       listenAddr,
		LocalfsDir:       localfsDir,
		OneDriveClientID: os.Getenv("CLOUDKIT_ONEDRIVE_CLIENT_ID"),
		S3Bucket:         os.Getenv("CLOUDKIT_S3_BUCKET"),
		MegaEmail:        os.Getenv("CLOUDKIT_MEGA_EMAIL"),
		MegaPassword:     os.Getenv("CLOUDKIT_MEGA_PASSWORD"),
	}
}
