package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"gopkg.in/natefinch/lumberjack.v2"

	"hermes/settings"
)

// 流式日志

type logLevel int

// log levels
const (
	DEBUG logLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

const (
	flags              = log.LstdFlags // 日志前缀的标志 2009/01/23 01:23:23
	defaultCallerDepth = 2             // 默认调用深度2
	bufferSize         = 1e5           // 缓冲区大小
)

var (
	levelFlags = []string{"DEBUG", "INFO", "WARNING", "ERROR", "FATAL"} // 日志级别
)

type logEntry struct {
	msg   string
	level logLevel
}

type Logger struct {
	logFile   io.WriteCloser
	logger    *log.Logger
	level     *atomic.Int32
	entryChan chan *logEntry
	entryPool *sync.Pool
	closeOnce sync.Once
	done      chan struct{}
}

var DefaultLogger = NewStdoutLogger()

// ParseLevel converts a level name such as "info" or "WARN" into a logLevel.
func ParseLevel(s string) (logLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARNING, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// NewLogger creates a logger which print msg to w
func NewLogger(w io.Writer) *Logger {
	logger := &Logger{
		logger:    log.New(w, "", flags),
		level:     atomic.NewInt32(int32(INFO)),
		entryChan: make(chan *logEntry, bufferSize),
		entryPool: &sync.Pool{
			New: func() interface{} {
				return &logEntry{}
			},
		},
		done: make(chan struct{}),
	}
	go func() {
		defer close(logger.done)
		for e := range logger.entryChan {
			_ = logger.logger.Output(0, e.msg) // msg includes call stack, no need for calldepth
			logger.entryPool.Put(e)
		}
	}()
	return logger
}

// NewStdoutLogger creates a logger which print msg to stdout
func NewStdoutLogger() *Logger {
	return NewLogger(os.Stdout)
}

// NewFileLogger creates a logger which print msg to stdout and a rotating log file
func NewFileLogger(settings *settings.LogConfig) (*Logger, error) {
	if err := mustDir(settings.Path); err != nil {
		return nil, fmt.Errorf("logging.Join err: %s", err)
	}
	logFile := &lumberjack.Logger{
		Filename:   path.Join(settings.Path, fmt.Sprintf("%s.%s", settings.Name, settings.Ext)),
		MaxSize:    settings.MaxSize,
		MaxBackups: settings.MaxBackups,
		MaxAge:     settings.MaxAge,
		Compress:   settings.Compress,
		LocalTime:  true,
	}
	logger := NewLogger(io.MultiWriter(os.Stdout, logFile))
	logger.logFile = logFile
	return logger, nil
}

// Setup initializes DefaultLogger
func Setup(settings *settings.LogConfig) {
	var logger *Logger
	if settings.Stdout {
		logger = NewStdoutLogger()
	} else {
		var err error
		logger, err = NewFileLogger(settings)
		if err != nil {
			panic(err)
		}
	}
	if level, err := ParseLevel(settings.Level); err == nil {
		logger.SetLevel(level)
	}
	old := DefaultLogger
	DefaultLogger = logger
	_ = old.Close()
}

// SetLevel drops every message below level.
func (logger *Logger) SetLevel(level logLevel) {
	logger.level.Store(int32(level))
}

func (logger *Logger) Enabled(level logLevel) bool {
	return int32(level) >= logger.level.Load()
}

// Output sends a msg to logger
func (logger *Logger) Output(level logLevel, callerDepth int, msg string) {
	if !logger.Enabled(level) {
		return
	}
	var formattedMsg string
	_, file, line, ok := runtime.Caller(callerDepth)
	if ok {
		formattedMsg = fmt.Sprintf("[%s][%s:%d] %s", levelFlags[level], filepath.Base(file), line, msg)
	} else {
		formattedMsg = fmt.Sprintf("[%s] %s", levelFlags[level], msg)
	}
	entry := logger.entryPool.Get().(*logEntry)
	entry.msg = formattedMsg
	entry.level = level
	logger.entryChan <- entry
}

// Close flushes pending entries and closes the log file. The logger must
// not be used afterwards.
func (logger *Logger) Close() error {
	var err error
	logger.closeOnce.Do(func() {
		close(logger.entryChan)
		<-logger.done
		if logger.logFile != nil {
			err = logger.logFile.Close()
		}
	})
	return err
}

// SetLevel changes the level of DefaultLogger
func SetLevel(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	DefaultLogger.SetLevel(l)
	return nil
}

// Debug logs debug message through DefaultLogger
func Debug(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(DEBUG, defaultCallerDepth, msg)
}

// Debugf logs debug message through DefaultLogger
func Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(DEBUG, defaultCallerDepth, msg)
}

// Info logs message through DefaultLogger
func Info(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(INFO, defaultCallerDepth, msg)
}

// Infof logs message through DefaultLogger
func Infof(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(INFO, defaultCallerDepth, msg)
}

// Warn logs warning message through DefaultLogger
func Warn(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(WARNING, defaultCallerDepth, msg)
}

// Warnf logs warning message through DefaultLogger
func Warnf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(WARNING, defaultCallerDepth, msg)
}

// Error logs error message through DefaultLogger
func Error(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(ERROR, defaultCallerDepth, msg)
}

// Errorf logs error message through DefaultLogger
func Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	DefaultLogger.Output(ERROR, defaultCallerDepth, msg)
}

// Fatal prints error message, flushes DefaultLogger then stop the program
func Fatal(v ...interface{}) {
	msg := fmt.Sprintln(v...)
	DefaultLogger.Output(FATAL, defaultCallerDepth, msg)
	_ = DefaultLogger.Close()
	os.Exit(1)
}

func mustDir(dir string) error {
	_, err := os.Stat(dir)
	if os.IsPermission(err) {
		return fmt.Errorf("permission denied dir: %s", dir)
	}
	if os.IsNotExist(err) {
		if err = os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("error during mkdir %s: %s", dir, err)
		}
	}
	return nil
}
