package config

import (
	"log/slog"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

var (
	envVarPatterns = struct {
		withDefault *regexp.Regexp
		braced      *regexp.Regexp
		simple      *regexp.Regexp
	}{
		withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
		braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
		simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
	}
)

// LoadDotEnv loads a .env file when present. A missing file is not an
// error; a malformed one is logged and ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("Failed to load env file", "path", p, "error", err)
		}
	}
}

// ExpandEnv substitutes ${VAR}, ${VAR:-default} and $VAR references.
func ExpandEnv(s string) string {
	out := envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(m string) string {
		groups := envVarPatterns.withDefault.FindStringSubmatch(m)
		if v := os.Getenv(groups[1]); v != "" {
			return v
		}
		return groups[2]
	})
	out = envVarPatterns.braced.ReplaceAllStringFunc(out, func(m string) string {
		groups := envVarPatterns.braced.FindStringSubmatch(m)
		return os.Getenv(groups[1])
	})
	out = envVarPatterns.simple.ReplaceAllStringFunc(out, func(m string) string {
		groups := envVarPatterns.simple.FindStringSubmatch(m)
		return os.Getenv(groups[1])
	})
	return out
}
