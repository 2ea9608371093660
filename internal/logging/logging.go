package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init 根据配置或环境变量初始化日志级别
// level 支持 DEBUG / INFO / WARN / ERROR（不区分大小写），默认 INFO。
func Init(level string) {
	logger.SetLevel(ParseLevel(level))
}

// ParseLevel maps a config level string onto a logrus level, defaulting to INFO.
func ParseLevel(level string) logrus.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN", "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ForPass returns an entry tagged with the pass id and the trigger that started it.
func ForPass(passID, trigger string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"pass_id": passID,
		"trigger": trigger,
	})
}

// WithComponent returns an entry tagged with a component name.
func WithComponent(component string) *logrus.Entry {
	return logger.WithField("component", component)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf 总是输出（即使在 WARN 级别），用于错误日志。
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}
