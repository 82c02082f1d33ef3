package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger. SYMPHONY_ENV=dev switches to the
// human-readable development config; everything else logs production JSON.
func New() *zap.SugaredLogger {
	var (
		log *zap.Logger
		err error
	)
	env := strings.ToLower(os.Getenv("SYMPHONY_ENV"))
	if env == "dev" {
		log, err = zap.NewDevelopment(zap.AddStacktrace(zap.ErrorLevel))
	} else {
		log, err = zap.NewProduction(zap.Fields(zap.String("SYMPHONY_ENV", env)))
	}
	if err != nil {
		panic(fmt.Errorf("failed to initialize logger: %w", err))
	}
	return log.Sugar()
}

// Nop returns a logger that discards everything; tests hand this to the
// backtest driver.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
