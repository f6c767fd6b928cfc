package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/messaging/store"
)

// Plugin is a service extension with a connect/close lifecycle.
// Plugins that also implement SendHook see every send, which suits spam
// filtering or moderation.
//
// For observing reads and deletes, use the event system instead.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init runs during Service.Connect, in registration order.
	Init(ctx context.Context) error
	// Close runs during Service.Close, in reverse registration order.
	Close(ctx context.Context) error
}

// SendHook wraps message sends.
type SendHook interface {
	Plugin
	// BeforeSend is called after validation and before anything is stored.
	// Return an error to abort the send.
	BeforeSend(ctx context.Context, senderID string, req *SendRequest) error
	// AfterSend is called after a message is stored.
	// The message is already committed and cannot be rolled back.
	AfterSend(ctx context.Context, senderID string, msg *store.Message) error
}

type pluginRegistry struct {
	all    []Plugin
	send   []SendHook
	logger *slog.Logger
}

func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(SendHook); ok {
		r.send = append(r.send, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func (r *pluginRegistry) beforeSend(ctx context.Context, senderID string, req *SendRequest) error {
	for _, h := range r.send {
		if err := h.BeforeSend(ctx, senderID, req); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSend", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterSend(ctx context.Context, senderID string, msg *store.Message) error {
	for _, h := range r.send {
		if err := h.AfterSend(ctx, senderID, msg); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterSend", Err: err}
		}
	}
	return nil
}
