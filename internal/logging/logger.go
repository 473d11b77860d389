// Package logging builds the process logger and the field sets shared by the
// pipeline stages.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Service is attached to every entry of the process logger.
const Service = "metalcrawler"

// New builds a zap.Logger configured for development (console, colored
// levels) or production (JSON, unsampled).
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{"service": Service}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Session tags logger with the parsing session and its distributor.
func Session(logger *zap.Logger, sessionID string, code catalog.DistributorCode) *zap.Logger {
	return logger.With(zap.String("session_id", sessionID), zap.String("distributor", code.String()))
}
