package bootstrap

import (
	"io"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contentmind/core"
)

// Component is a request-handling collaborator built after every enabled
// capability is active.
type Component interface{}

// ComponentFactory builds a component from the sealed application context.
type ComponentFactory func(ac *AppContext) (Component, error)

// RouteRegistrar is implemented by components that serve HTTP routes. The
// router is the /api/v1 subrouter.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// Closer is implemented by components holding resources released on shutdown.
type Closer interface {
	Close() error
}

type namedFactory struct {
	name    string
	factory ComponentFactory
}

type options struct {
	activators     map[core.Capability]Activator
	factories      []namedFactory
	logger         *zap.SugaredLogger
	tracerProvider trace.TracerProvider
	configPaths    []string
	stderr         io.Writer
}

// Option customises NewApp.
type Option func(*options)

// WithActivator replaces the default activator for a.Capability().
func WithActivator(a Activator) Option {
	return func(o *options) {
		if o.activators == nil {
			o.activators = make(map[core.Capability]Activator)
		}
		o.activators[a.Capability()] = a
	}
}

// WithComponent registers a component factory under name. Factories run in
// registration order.
func WithComponent(name string, f ComponentFactory) Option {
	return func(o *options) {
		o.factories = append(o.factories, namedFactory{name: name, factory: f})
	}
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracerProvider uses tp for startup spans instead of one built from
// config. The caller owns its shutdown.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithConfigPaths sets the directories searched for config.yaml.
func WithConfigPaths(paths ...string) Option {
	return func(o *options) { o.configPaths = paths }
}

// WithStderr sets where the startup failure banner is written. The default
// is os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}
