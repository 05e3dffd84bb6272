package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileName is the optional dotenv file in the app directory.
const EnvFileName = ".env"

// LoadEnvFile loads <app dir>/.env into the process environment. Variables
// already set are left alone. A missing file is not an error.
func LoadEnvFile() error {
	dir, err := GetAppDir()
	if err != nil {
		return err
	}
	p := filepath.Join(dir, EnvFileName)
	if err := godotenv.Load(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", p, err)
	}
	return nil
}

// ExpandPath expands environment variables and a leading ~ in path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// firstNonEmpty returns the first non-blank value, expanded.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return ExpandPath(strings.TrimSpace(v))
		}
	}
	return ""
}
