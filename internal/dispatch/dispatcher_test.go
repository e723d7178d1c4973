package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidchat/switchboard/internal/execctx"
)

func newTestDispatcher(cfg Config) *Dispatcher {
	return New(cfg)
}

func TestRegisterRejectsUnknownVerbAtRegistrationTime(t *testing.T) {
	d := newTestDispatcher(Config{})

	assert.Panics(t, func() {
		d.Register("patch", "thing", func(c *execctx.Context, r *http.Request) (*Result, error) {
			return nil, nil
		}, false, false)
	})
}

func TestRegisterAcceptsAllSupportedVerbs(t *testing.T) {
	d := newTestDispatcher(Config{})
	handler := func(c *execctx.Context, r *http.Request) (*Result, error) { return nil, nil }

	for _, verb := range []string{"get", "put", "post", "delete", "GET"} {
		assert.NotPanics(t, func() {
			d.Register(verb, "route-"+verb, handler, false, false)
		}, "verb %q", verb)
	}
}

func TestDispatchJSONResult(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("get", "profile", func(c *execctx.Context, r *http.Request) (*Result, error) {
		return &Result{JSON: map[string]string{"name": "Ada"}}, nil
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"name":"Ada"}`, rec.Body.String())
}

func TestDispatchRedirectResult(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("get", "auth", func(c *execctx.Context, r *http.Request) (*Result, error) {
		return &Result{Redirect: "https://accounts.example/authorize"}, nil
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example/authorize", rec.Header().Get("Location"))
}

func TestDispatchStatusAndBody(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("post", "signout", func(c *execctx.Context, r *http.Request) (*Result, error) {
		return &Result{Status: http.StatusAccepted, Body: []byte("bye")}, nil
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/signout", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "bye", rec.Body.String())
}

func TestDispatchNilResultIsEmpty200(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("get", "noop", func(c *execctx.Context, r *http.Request) (*Result, error) {
		return nil, nil
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/noop", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDispatchInternalErrorNeverLeaks(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("get", "boom", func(c *execctx.Context, r *http.Request) (*Result, error) {
		return nil, errors.New("database password is hunter2")
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestDispatchClientErrorSurfacesStatusAndMessage(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("get", "bad", func(c *execctx.Context, r *http.Request) (*Result, error) {
		return nil, BadRequestf("missing %s parameter", "userId")
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing userId parameter")
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	d := newTestDispatcher(Config{})
	d.Register("get", "panic", func(c *execctx.Context, r *http.Request) (*Result, error) {
		panic("unexpected fault")
	}, false, false)

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "unexpected fault")
}

func TestCacheHeaders(t *testing.T) {
	d := newTestDispatcher(Config{})
	handler := func(c *execctx.Context, r *http.Request) (*Result, error) { return nil, nil }
	d.Register("get", "uncached", handler, false, false)
	d.Register("get", "cached", handler, false, true)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uncached", nil))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cached", nil))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestDynamicRouteUsesBasePath(t *testing.T) {
	d := newTestDispatcher(Config{BasePath: "/gateway"})
	handler := func(c *execctx.Context, r *http.Request) (*Result, error) { return nil, nil }
	d.Register("get", "google/auth", handler, true, false)
	d.Register("get", "healthy", handler, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateway/google/auth", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/google/auth", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "dynamic route must not match without base path")

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthy", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "static route ignores base path")
}

func TestHydrationHookRunsBeforeHandler(t *testing.T) {
	var seenUser string
	d := newTestDispatcher(Config{
		Hydrate: func(c *execctx.Context, r *http.Request) error {
			if uid := r.Header.Get("X-Braid-User"); uid != "" {
				c.BindUser(uid)
			}
			return nil
		},
	})
	d.Register("get", "me", func(c *execctx.Context, r *http.Request) (*Result, error) {
		seenUser = c.UserID()
		return nil, nil
	}, false, false)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Braid-User", "U1")
	d.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "U1", seenUser)
}

func TestHydrationHookErrorFailsRequest(t *testing.T) {
	d := newTestDispatcher(Config{
		Hydrate: func(c *execctx.Context, r *http.Request) error {
			return fmt.Errorf("session backend unavailable")
		},
	})
	called := false
	d.Register("get", "me", func(c *execctx.Context, r *http.Request) (*Result, error) {
		called = true
		return nil, nil
	}, false, false)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, called, "handler must not run when hydration fails")
}

func TestExecutionContextConfigReachesHandler(t *testing.T) {
	d := newTestDispatcher(Config{
		BaseConfig: map[string]string{"site.url": "https://braid.example"},
	})
	var got string
	d.Register("get", "conf", func(c *execctx.Context, r *http.Request) (*Result, error) {
		got = c.Get("site.url")
		return nil, nil
	}, false, false)

	d.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conf", nil))
	assert.Equal(t, "https://braid.example", got)
}
