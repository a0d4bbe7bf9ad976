package tpuipc

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	debug = os.Getenv("TPUIPC_DEBUG") != ""

	log logrus.FieldLogger
)

// SetLogger sets the package logger.
func SetLogger(logger logrus.FieldLogger) {
	log = logger
}

func init() {
	logger := logrus.New()
	if debug {
		logger.Level = logrus.DebugLevel
		logger.Debug("tpuipc: debug level enabled")
	}
	log = logger.WithField("logger", "tpuipc")
}
