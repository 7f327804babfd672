package micbridge

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/micbridge/micbridge/pkg/micbridge/util"
)

const (
	logDirectory = "logs"
	logFilename  = "micbridge.log"
)

// NewLogger creates the root sugared logger: human-readable console output
// plus a JSON log file under the logs directory. Debug builds log at debug
// level everywhere.
func NewLogger(buildType string) (*zap.SugaredLogger, error) {
	if err := util.EnsureDirExists(logDirectory); err != nil {
		return nil, fmt.Errorf("ensure log dir exists: %w", err)
	}

	logFile, err := os.OpenFile(
		filepath.Join(logDirectory, logFilename),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	level := zapcore.InfoLevel
	if buildType == "" || buildType == "debug" {
		level = zapcore.DebugLevel
	}

	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileEncoderConfig := zap.NewProductionEncoderConfig()
	fileEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig), zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig), zapcore.AddSync(logFile), level),
	)

	return zap.New(core).Sugar(), nil
}
