package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup builds a logger with the given level and output format ("text" or "json").
func Setup(levelStr, format string, fields logrus.Fields) (logrus.FieldLogger, error) {
	return setup(os.Stdout, levelStr, format, fields)
}

func setup(out io.Writer, levelStr, format string, fields logrus.Fields) (logrus.FieldLogger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		return nil, fmt.Errorf("not a valid log format: %q", format)
	}

	return logger.WithFields(fields), nil
}
