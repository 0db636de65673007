package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

// Fixed resource keys holding the provider credentials.
const (
	ResourceAppID     = "parse_app_id"
	ResourceClientKey = "parse_client_key"
)

// Credentials are the provider credentials found in a resources file.
type Credentials struct {
	AppID     string
	ClientKey string
}

// LoadResources reads a dotenv-format resources file and returns the
// credentials stored under the fixed keys. Missing keys yield empty values.
func LoadResources(path string) (Credentials, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read resources file %s: %w", path, err)
	}
	return Credentials{
		AppID:     values[ResourceAppID],
		ClientKey: values[ResourceClientKey],
	}, nil
}
