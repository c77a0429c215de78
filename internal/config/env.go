package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultEnvFiles are loaded by [LoadEnvFiles] in order. Variables already
// set in the process environment are never overridden.
var DefaultEnvFiles = []string{".env.local", ".env"}

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// LoadEnvFiles loads the given dotenv files, or [DefaultEnvFiles] when none
// are given. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

// ExpandEnv replaces ${VAR} with the value of the environment variable VAR
// and ${VAR:-default} with default when VAR is unset or empty. Bare $VAR is
// left alone so literal dollar signs survive in prompts and URLs.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		parts := envRef.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}
