package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"amadeus/internal/catalog"
	"amadeus/internal/registry"
	"amadeus/internal/room"
	"amadeus/internal/session"
)

type fakeLibrary struct{}

func (fakeLibrary) LoadQuiz(ctx context.Context, n int) (room.Quiz, error) {
	return room.Quiz{Questions: []room.Question{{Audio: "h", Prompt: "p", Solution: "s"}}}, nil
}
func (fakeLibrary) Resolve(ctx context.Context, h room.AudioHandle) ([]byte, error) {
	return []byte("x"), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	sessDir, err := session.Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { sessDir.Close() })

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	reg := registry.New(fakeLibrary{}, sessDir)
	return New(reg, sessDir, cat, nil)
}

func TestHandleLanding(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "amadeus") {
		t.Fatalf("body missing expected content: %s", rec.Body.String())
	}
}

func TestRegisterSetsSessionCookie(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{"name": {"Alice"}}
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	resp := rec.Result()
	var found bool
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie && ck.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("register response missing session cookie")
	}
}

func TestCreateAndListRoom(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/room", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("create room status = %d, want 303", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/room/") {
		t.Fatalf("Location = %q, want /room/<id>", loc)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/room", nil)
	listRec := httptest.NewRecorder()
	s.Echo().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), strings.TrimPrefix(loc, "/room/")) {
		t.Fatalf("listing does not contain created room id: %s", listRec.Body.String())
	}
}

func TestRoomPageUnknownRoomIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/room/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRoomWSRequiresSessionCookie(t *testing.T) {
	s := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/room", nil)
	createRec := httptest.NewRecorder()
	s.Echo().ServeHTTP(createRec, createReq)
	loc := createRec.Header().Get("Location")
	roomID := strings.TrimPrefix(loc, "/room/")

	req := httptest.NewRequest(http.MethodGet, "/room/"+roomID+"/ws", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a session cookie", rec.Code)
	}
}
