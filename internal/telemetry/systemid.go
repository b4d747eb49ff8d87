package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// systemIDPattern matches the XXXX-XXXX-XXXX hex format produced by GenerateSystemID
var systemIDPattern = regexp.MustCompile(`(?i)^[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}$`)

// GenerateSystemID creates a unique anonymous installation identifier.
// The ID carries no host or user information; it only lets error reports
// from the same installation be grouped together.
func GenerateSystemID() (string, error) {
	// 6 random bytes become 12 hex characters
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	id := hex.EncodeToString(bytes)

	// Format as XXXX-XXXX-XXXX for readability
	formatted := fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])

	return strings.ToUpper(formatted), nil
}

// LoadOrCreateSystemID loads an existing system ID from the config directory
// or creates and persists a new one.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	idFile := filepath.Join(configDir, ".system_id")

	if data, err := os.ReadFile(idFile); err == nil {
		id := strings.TrimSpace(string(data))
		if IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := GenerateSystemID()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(idFile, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("failed to save system ID: %w", err)
	}

	return id, nil
}

// IsValidSystemID checks if a system ID has the XXXX-XXXX-XXXX format
func IsValidSystemID(id string) bool {
	return systemIDPattern.MatchString(id)
}
