package util

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. InitLogger replaces its level and
// formatter; callers that need run-scoped fields derive entries from it.
var Logger = logrus.New()

// InitLogger configures Logger for console output at the given level.
func InitLogger(level logrus.Level) {
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	Logger.SetLevel(level)
}
