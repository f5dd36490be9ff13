package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envFileKey names an explicit .env file. Without it ".env" in the working
// directory is used when it exists.
const envFileKey = "AUTHMS_ENV_FILE"

// loadDotEnv populates unset variables from a .env file. Variables already in
// the process environment win.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(envFileKey))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrConfig, envFileKey, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrConfig, path, err)
	}
	return nil
}
