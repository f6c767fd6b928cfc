package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultThreadsTable  = "threads"
	DefaultMessagesTable = "messages"
	DefaultTimeout       = 10 * time.Second
	DefaultListLimit     = 20
)

// options holds PostgreSQL store configuration.
type options struct {
	threadsTable  string
	messagesTable string
	timeout       time.Duration
	logger        *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		threadsTable:  DefaultThreadsTable,
		messagesTable: DefaultMessagesTable,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithThreadsTable sets the threads table name.
func WithThreadsTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.threadsTable = name
		}
	}
}

// WithMessagesTable sets the messages table name.
func WithMessagesTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messagesTable = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
