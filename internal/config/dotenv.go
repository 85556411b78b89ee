package config

import "github.com/joho/godotenv"

// LoadDotEnv loads a .env file into the process environment.
// Existing env vars take precedence. A missing file returns an error the
// caller may ignore.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}
