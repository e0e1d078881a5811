package config

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/auth"
)

// apiKeyFile is the on-disk shape of cfg.APIKeysFile: a flat list of legacy
// keys plus a metadata list for role-scoped keys, mirroring auth.Credentials
// itself so the file format needs no translation layer.
type apiKeyFile struct {
	Legacy   []string           `json:"legacy"`
	Metadata []auth.MetadataKey `json:"metadata"`
}

// LoadCredentials reads cfg.APIKeysFile into an auth.Credentials. An empty
// path yields an empty Credentials (every key rejected) rather than an
// error — DevAllowUnauthenticated is the intended escape hatch for running
// without any configured keys.
func LoadCredentials(path string) (*auth.Credentials, error) {
	if path == "" {
		return &auth.Credentials{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading api keys file: %w", err)
	}

	var f apiKeyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing api keys file: %w", err)
	}

	return &auth.Credentials{Legacy: f.Legacy, Metadata: f.Metadata}, nil
}

// BuildJWTManager loads RSA keys from dataDir if present, or generates
// ephemeral in-memory keys for development — identical fallback behavior to
// cmd/server/main.go's buildJWTManager.
func BuildJWTManager(dataDir, issuer string, logger *zap.Logger) (*auth.JWTManager, error) {
	privPath := dataDir + "/jwt_private.pem"
	pubPath := dataDir + "/jwt_public.pem"

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return auth.NewJWTManagerFromFiles(privPath, pubPath, issuer)
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens will be invalidated on restart)",
		zap.String("expected_private", privPath))
	return auth.NewJWTManagerGenerated(issuer)
}
