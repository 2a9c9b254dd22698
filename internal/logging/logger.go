package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the process logger. It is the logrus standard logger.
var Log *logrus.Logger

func init() {
	Log = logrus.StandardLogger()
	configure(Log, os.Stdout, logrus.InfoLevel)
}

func configure(l *logrus.Logger, out io.Writer, level logrus.Level) {
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	l.SetOutput(out)
	l.SetLevel(level)
}

// SetLevel parses a level name and applies it to Log; unknown names keep the current level
func SetLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	Log.SetLevel(level)
	return nil
}
