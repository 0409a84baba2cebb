package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/store"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *store.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s := store.NewMemoryStore()
	c, err := New(Config{BaseURL: srv.URL}, s, nil)
	require.NoError(t, err)
	return c, s
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"}, nil, nil)
	assert.Error(t, err)
}

func TestDo_JSONAndHeaders(t *testing.T) {
	var gotAuth, gotReqID, gotCT, gotPath string
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get(HeaderRequestID)
		gotCT = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 5}`))
	})
	ctx := context.Background()
	require.NoError(t, s.SetSession(ctx, models.Session{AccessToken: "A", Role: models.RoleStudent}))

	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/api/issues/", JSON: map[string]string{"title": "x"}, Authenticated: true})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "Bearer A", gotAuth)
	assert.Len(t, gotReqID, 26, "ULID request id")
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "/api/issues/", gotPath, "trailing slash preserved")

	var out struct {
		ID models.RefID `json:"id"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, models.RefID("5"), out.ID)
}

func TestDo_AuthenticatedWithoutSession(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	hooked := -1
	c.OnSessionExpired(func(_ context.Context, st int) { hooked = st })

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/api/issues/", Authenticated: true})
	var expired *apperr.SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, int32(0), calls.Load(), "no request without a token")
	assert.Equal(t, 0, hooked, "a missing session still forces logout")
}

func TestDo_SessionExpiredRunsHooks(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		ctx := context.Background()
		require.NoError(t, s.SetSession(ctx, models.Session{AccessToken: "A", Role: models.RoleLecturer}))

		var hooked int
		c.OnSessionExpired(func(_ context.Context, st int) { hooked = st })

		_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/api/issues/", Authenticated: true})
		var expired *apperr.SessionExpiredError
		require.ErrorAs(t, err, &expired)
		assert.Equal(t, status, expired.Status)
		assert.Equal(t, status, hooked)
	}
}

func TestDo_UnauthenticatedErrorStatusIsNotExpiry(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
	})
	hooked := false
	c.OnSessionExpired(func(context.Context, int) { hooked = true })

	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/api/auth/student/login/", JSON: map[string]string{}})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, "No active account found with the given credentials", resp.ErrorMessage())
	assert.False(t, hooked)
}

func TestDo_RequireCSRF(t *testing.T) {
	var calls atomic.Int32
	var gotCSRF string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotCSRF = r.Header.Get(HeaderCSRF)
	})
	ctx := context.Background()

	_, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/x/", RequireCSRF: true})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int32(0), calls.Load())

	_, err = c.Do(ctx, Request{Method: http.MethodPost, Path: "/x/", RequireCSRF: true, CSRFToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "tok", gotCSRF)
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url}, store.NewMemoryStore(), nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	var ne *apperr.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.True(t, errors.Unwrap(err) != nil)
}

func TestDo_CookiesPersistAcrossRequests(t *testing.T) {
	var sawCookie string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/csrf/" {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "cookieval", Path: "/"})
			return
		}
		if ck, err := r.Cookie("csrftoken"); err == nil {
			sawCookie = ck.Value
		}
	})
	ctx := context.Background()

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/api/csrf/"})
	require.NoError(t, err)
	_, err = c.Do(ctx, Request{Method: http.MethodPost, Path: "/api/auth/student/login/", CSRFToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, "cookieval", sawCookie)
}

func TestURL_JoinsBasePath(t *testing.T) {
	c, err := New(Config{BaseURL: "https://api.example.edu/v1"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.edu/v1/api/issues/", c.URL("/api/issues/"))
	assert.Equal(t, "https://api.example.edu/v1/api/issues/3", c.URL("/api/issues/3"))
}
