package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Options configures a Logger. A zero Options writes colored output to stdout
// and no file.
type Options struct {
	Service string
	Dir     string // JSON log file directory, empty disables the file
	Level   string
	NoColor bool
	Out     io.Writer
}

type Logger struct {
	mu           sync.Mutex
	out          io.Writer
	logFile      *os.File
	minLevel     LogLevel
	colorEnabled bool
	exit         func(int)
}

// New builds a logger writing to opts.Out (stdout by default) and, when
// opts.Dir is set, to a dated JSON lines file inside it.
func New(opts Options) (*Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	l := &Logger{
		out:          out,
		minLevel:     ParseLevel(opts.Level),
		colorEnabled: !opts.NoColor,
		exit:         os.Exit,
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		service := opts.Service
		if service == "" {
			service = "activity-service"
		}
		name := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", service, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.logFile = f
		l.Info("LOGGER", fmt.Sprintf("Log file: %s", name))
	}
	return l, nil
}

// NewLogger returns a stdout logger with the default level.
func NewLogger() *Logger {
	l, _ := New(Options{})
	return l
}

// NewNop discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{out: io.Discard, minLevel: FATAL + 1, exit: os.Exit}
}

// ParseLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil || level < l.minLevel {
		return
	}
	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     levelToString(level),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, l.formatTerminalOutput(entry))
	if l.logFile != nil {
		if b, err := json.Marshal(entry); err == nil {
			l.logFile.Write(append(b, '\n'))
		}
	}
}

func (l *Logger) formatTerminalOutput(entry LogEntry) string {
	timestamp := entry.Timestamp[11:19]
	if !l.colorEnabled {
		return fmt.Sprintf("%s %-5s [%-11s] %s (%s:%d)\n", timestamp, entry.Level, entry.Category, entry.Message, entry.File, entry.Line)
	}

	var fg color.Attribute
	switch entry.Level {
	case "DEBUG":
		fg = color.FgCyan
	case "INFO":
		fg = color.FgGreen
	case "WARN":
		fg = color.FgYellow
	default:
		fg = color.FgRed
	}

	timeStr := color.New(color.FgBlue).Sprint(timestamp)
	levelStr := color.New(fg).Sprintf("%-5s", entry.Level)
	categoryStr := color.New(fg, color.Bold).Sprintf("[%-11s]", entry.Category)
	fileInfo := color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
	return fmt.Sprintf("%s %s %s %s%s\n", timeStr, levelStr, categoryStr, entry.Message, fileInfo)
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	l.exit(1)
}

// Specialized logging methods for the coordinator and its collaborators
func (l *Logger) LogEvent(action, eventID, message string) {
	l.Info("COORDINATOR", fmt.Sprintf("[%s] %s - %s", action, eventID, message))
}

func (l *Logger) LogLock(action, key, message string) {
	l.Debug("LOCK", fmt.Sprintf("[%s] %s - %s", action, key, message))
}

func (l *Logger) LogNotify(kind, recipient, message string) {
	l.Info("NOTIFY", fmt.Sprintf("[%s] %s - %s", kind, recipient, message))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.Info("API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.Info("KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) Close() {
	if l == nil || l.logFile == nil {
		return
	}
	l.Info("LOGGER", "Closing log file")
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logFile.Close()
	l.logFile = nil
}
