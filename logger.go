package main

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logOutput io.Writer
	logLevel  = logrus.InfoLevel
)

// SetLogLevel applies to loggers created afterwards. The CLI quiets
// every component this way so log lines don't garble the progress bar.
func SetLogLevel(level logrus.Level) {
	logLevel = level
}

// cliHook for logging Info level and above to the CLI.
type cliHook struct{}

func (h *cliHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

func (h *cliHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = os.Stderr.WriteString(line)
	return err
}

func InitLogger(logPath string) {
	// Service mode logs everything to the rotating file
	logLevel = logrus.DebugLevel
	logOutput = &lumberjack.Logger{
		Filename:   filepath.ToSlash(filepath.Join(logPath, "vidstretch.log")),
		MaxSize:    5, // in MB
		MaxBackups: 10,
		MaxAge:     30,   // in days
		Compress:   true, // compress old log files
	}
}

// CreateLogger returns a named logger entry. Before InitLogger runs
// (tests, bare CLI invocations) entries log to stderr only.
func CreateLogger(name string) *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logLevel)

	if logOutput != nil {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC1123Z,
		})
		log.SetOutput(logOutput)
		log.AddHook(&cliHook{})
	} else {
		log.SetOutput(os.Stderr)
	}

	return log.WithField("from", name)
}

func StructFields(data interface{}) logrus.Fields {
	fields := logrus.Fields{}

	// Use reflection to iterate through the struct's fields and add them to the fields map
	val := reflect.ValueOf(data)
	typ := reflect.TypeOf(data)

	if val.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}

	for i := 0; i < val.NumField(); i++ {
		fieldName := typ.Field(i).Name
		fieldValue := val.Field(i).Interface()
		fields[fieldName] = fieldValue
	}

	return fields
}
