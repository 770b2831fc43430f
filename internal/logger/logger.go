// Package logger builds the zap logger shared by the binaries.
package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production JSON logger for env "production", a colored development logger otherwise.
func New(env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps the first three characters and the domain: john.doe@example.com -> joh***@example.com.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	if m := emailRegex.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}
	if parts := strings.SplitN(email, "@", 2); len(parts) == 2 {
		return "***@" + parts[1]
	}
	return "***"
}

// Email is a zap field carrying a masked address.
func Email(email string) zap.Field {
	return zap.String("email", MaskEmail(email))
}
