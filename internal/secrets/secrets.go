// Package secrets resolves credentials such as the ledger API key and the
// Telegram token. A value may come from NAME directly or from a file named by
// NAME_FILE (Docker/Kubernetes secret mounts); the file wins when both exist.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMissing is returned by Require when neither NAME nor NAME_FILE is set.
var ErrMissing = errors.New("secret not set")

// Lookup returns the secret for envKey and whether it was found.
func Lookup(envKey string) (string, bool, error) {
	if filePath := os.Getenv(envKey + "_FILE"); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", false, fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), true, nil
	}

	if value, ok := os.LookupEnv(envKey); ok && value != "" {
		return value, true, nil
	}

	return "", false, nil
}

// Require returns the secret or an error naming the missing key.
func Require(envKey string) (string, error) {
	value, ok, err := Lookup(envKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissing, envKey)
	}
	return value, nil
}

// GetOptionalSecret never fails; unreadable or unset secrets yield defaultValue.
func GetOptionalSecret(envKey string, defaultValue string) string {
	value, ok, err := Lookup(envKey)
	if err != nil || !ok {
		return defaultValue
	}
	return value
}
