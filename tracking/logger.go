package tracking

import (
	"image"

	"github.com/sirupsen/logrus"
)

// Logger writes everything it receives to a logrus logger.
type Logger struct {
	log logrus.FieldLogger
}

// NewLogger creates a logging sink.
func NewLogger(log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{log: log}
}

// LogScalars implements ScalarLogger.
func (l *Logger) LogScalars(epoch int, values map[string]float64) error {
	fields := make(logrus.Fields, len(values)+1)
	for k, v := range values {
		fields[k] = v
	}
	fields["epoch"] = epoch
	l.log.WithFields(fields).Info("running losses")
	return nil
}

// LogImage implements ImageLogger.
func (l *Logger) LogImage(epoch int, grid image.Image, caption string) error {
	l.log.WithFields(logrus.Fields{
		"epoch":   epoch,
		"caption": caption,
		"size":    grid.Bounds().Size(),
	}).Info("image grid")
	return nil
}
