package scopes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() (http.Handler, *bool) {
	called := new(bool)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}), called
}

func TestRequireServerAccess(t *testing.T) {
	store := NewMemoryStore()
	mustPut(t, store, testDoc("developers", "eng"))
	dp := newTestDecisionPoint(t, store, nil)
	m := NewAccessMiddleware(dp)

	principal := &Principal{Identity: "alice@example.com", Kind: PrincipalHuman, Groups: []string{"eng"}}

	t.Run("allowed request passes through", func(t *testing.T) {
		next, called := okHandler()
		handler := m.RequireServerAccess("github", "tools/call")(next)

		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), principal))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || !*called {
			t.Errorf("status = %v, called = %v; want pass-through", rec.Code, *called)
		}
	})

	t.Run("missing principal is 401", func(t *testing.T) {
		next, called := okHandler()
		handler := m.RequireServerAccess("github", "tools/call")(next)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		if rec.Code != http.StatusUnauthorized || *called {
			t.Errorf("status = %v, called = %v; want 401 without pass-through", rec.Code, *called)
		}
	})

	t.Run("ungranted method is 403", func(t *testing.T) {
		next, called := okHandler()
		handler := m.RequireServerAccess("github", "resources/read")(next)

		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), principal))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden || *called {
			t.Errorf("status = %v, called = %v; want 403 without pass-through", rec.Code, *called)
		}
	})
}

func TestRequireUIPermission(t *testing.T) {
	store := NewMemoryStore()
	doc := testDoc("developers", "eng")
	doc.UIPermissions = map[PermissionKey]ResourceSet{
		PermissionListService: {IDs: []string{"github"}},
	}
	mustPut(t, store, doc)
	dp := newTestDecisionPoint(t, store, nil)
	m := NewAccessMiddleware(dp)

	principal := &Principal{Identity: "alice@example.com", Kind: PrincipalHuman, Groups: []string{"eng"}}

	next, _ := okHandler()
	handler := m.RequireUIPermission(PermissionListService, "github")(next)
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %v, want 200 for granted UI permission", rec.Code)
	}

	handler = m.RequireUIPermission(PermissionModifyService, "github")(next)
	req = httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), principal))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %v, want 403 for ungranted UI permission", rec.Code)
	}
}

func TestRequireAccessPolicyUnavailable(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore()}
	store.fail.Store(true)
	cache := newTestCache(t, store)
	dp := NewDecisionPoint(cache, nil, nil, nil, time.Second)
	m := NewAccessMiddleware(dp)

	next, called := okHandler()
	handler := m.RequireServerAccess("github", "tools/call")(next)

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &Principal{
		Identity: "alice@example.com",
		Kind:     PrincipalHuman,
		Groups:   []string{"eng"},
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable || *called {
		t.Errorf("status = %v, called = %v; want 503 without pass-through", rec.Code, *called)
	}
}
