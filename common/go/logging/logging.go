package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Encoding selects "console" (default) or "json" output.
	Encoding string `yaml:"encoding"`
}

// Init initializes the logging subsystem.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}

	var encoderConfig zapcore.EncoderConfig
	switch encoding {
	case "console":
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		if term.IsTerminal(int(os.Stderr.Fd())) {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	case "json":
		encoderConfig = zap.NewProductionEncoderConfig()
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log encoding %q", encoding)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}
