package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/logging"
)

// HandlerFunc is an HTTP handler in the dispatcher's uniform shape. It
// receives the execution context for this request and returns a Result or
// an error; it never writes to the response directly.
type HandlerFunc func(c *execctx.Context, r *http.Request) (*Result, error)

// Hook runs before every handler invocation. It is the
// authentication/session-hydration collaborator: it may bind a user to the
// execution context based on the request. A hook error fails the request.
type Hook func(c *execctx.Context, r *http.Request) error

// Config holds dispatcher construction parameters.
type Config struct {
	// BasePath prefixes dynamic routes. Resolved at startup, e.g. from
	// the public base URL the gateway is deployed under.
	BasePath string

	// BaseConfig is the immutable configuration snapshot handed to every
	// execution context the dispatcher creates.
	BaseConfig map[string]string

	// Hydrate is the pre-handler hook; may be nil.
	Hydrate Hook

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Dispatcher maps registered (verb, path suffix) pairs to handlers and
// normalizes their results and errors into wire responses.
type Dispatcher struct {
	router   chi.Router
	basePath string
	config   map[string]string
	hydrate  Hook
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// New creates a Dispatcher. A nil logger falls back to slog.Default().
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	basePath := "/" + strings.Trim(cfg.BasePath, "/")
	if basePath == "/" {
		basePath = ""
	}
	return &Dispatcher{
		router:   chi.NewRouter(),
		basePath: basePath,
		config:   cfg.BaseConfig,
		hydrate:  cfg.Hydrate,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// ServeHTTP dispatches to the registered routes.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

// Register binds a handler to a verb and path suffix. Dynamic routes are
// mounted under the dispatcher's base path, static routes at the server
// root. Unless cacheable, responses carry headers disabling caches.
//
// Supported verbs are get, put, post, and delete; anything else is a
// configuration mistake and panics at registration time, never at request
// time.
func (d *Dispatcher) Register(verb, suffix string, handler HandlerFunc, dynamic, cacheable bool) {
	var method string
	switch strings.ToLower(verb) {
	case "get":
		method = http.MethodGet
	case "put":
		method = http.MethodPut
	case "post":
		method = http.MethodPost
	case "delete":
		method = http.MethodDelete
	default:
		panic(fmt.Sprintf("dispatch: unsupported verb %q registering route %q", verb, suffix))
	}

	pattern := "/" + strings.TrimPrefix(suffix, "/")
	if dynamic && d.basePath != "" {
		pattern = path.Join(d.basePath, pattern)
	}

	d.router.Method(method, pattern, d.wrap(suffix, handler, cacheable))
	d.logger.Debug("registered route",
		slog.String("method", method),
		logging.Route(pattern),
	)
}

// wrap builds the http.Handler for one registered route: no-cache headers,
// execution context lifecycle, hydration hook, panic recovery, and
// result/error normalization.
func (d *Dispatcher) wrap(route string, handler HandlerFunc, cacheable bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if !cacheable {
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
		}

		c := execctx.New(execctx.KindHTTP, d.config, d.logger)

		var res *Result
		var err error
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic in handler: %v", rec)
					d.logger.Error("handler panicked",
						logging.ContextID(c.ID()),
						logging.Route(route),
						slog.String("panic", fmt.Sprint(rec)),
						slog.String("stack", string(debug.Stack())),
					)
				}
			}()
			if d.hydrate != nil {
				err = d.hydrate(c, r)
			}
			if err == nil {
				res, err = handler(c, r)
			}
		}()

		status := d.writeResponse(w, r, c, route, res, err)
		c.Finish(err)

		if d.metrics != nil {
			d.metrics.RecordHTTPRequest(r.Context(), r.Method, route, status, time.Since(start))
		}
	})
}

// writeResponse maps a handler outcome to the wire and returns the status
// code written.
func (d *Dispatcher) writeResponse(w http.ResponseWriter, r *http.Request, c *execctx.Context, route string, res *Result, err error) int {
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			http.Error(w, ce.Message, ce.Status)
			return ce.Status
		}
		d.logger.Error("handler failed",
			logging.ContextID(c.ID()),
			logging.Route(route),
			logging.Err(err),
		)
		// Never leak internal error content to the client.
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	if res == nil {
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	}

	switch {
	case res.Redirect != "":
		http.Redirect(w, r, res.Redirect, http.StatusFound)
		return http.StatusFound

	case res.JSON != nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if encErr := json.NewEncoder(w).Encode(res.JSON); encErr != nil {
			d.logger.Error("failed to encode response",
				logging.ContextID(c.ID()),
				logging.Route(route),
				logging.Err(encErr),
			)
		}
		return http.StatusOK

	case res.Status != 0:
		w.WriteHeader(res.Status)
		if len(res.Body) > 0 {
			_, _ = w.Write(res.Body)
		}
		return res.Status

	default:
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	}
}
