package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	"visadesk/internal/domain"
	"visadesk/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func tokenExpiringAt(t *testing.T, exp time.Time) string {
	return signedToken(t, jwt.MapClaims{"exp": exp.Unix(), "user_id": 7})
}

type refresherFunc func(ctx context.Context, refreshToken string) (string, error)

func (f refresherFunc) Refresh(ctx context.Context, rt string) (string, error) { return f(ctx, rt) }

// countingStore counts credential loads so tests can wait for callers.
type countingStore struct {
	*store.MemoryStore
	loads atomic.Int32
}

func (s *countingStore) LoadCredential(ctx context.Context) (domain.Credential, error) {
	s.loads.Add(1)
	return s.MemoryStore.LoadCredential(ctx)
}

func TestGate_NoAccessToken(t *testing.T) {
	g := NewGate(store.NewMemoryStore(domain.Credential{}), refresherFunc(func(context.Context, string) (string, error) {
		t.Fatal("refresh must not be called")
		return "", nil
	}), testLogger())

	if tok, ok := g.ValidAccessToken(context.Background()); ok || tok != "" {
		t.Fatalf("expected no token, got %q", tok)
	}
}

func TestGate_ValidTokenReturnedUnchanged(t *testing.T) {
	access := tokenExpiringAt(t, time.Now().Add(time.Hour))
	g := NewGate(store.NewMemoryStore(domain.Credential{AccessToken: access, RefreshToken: "r"}), refresherFunc(func(context.Context, string) (string, error) {
		t.Fatal("refresh must not be called for a valid token")
		return "", nil
	}), testLogger())

	tok, ok := g.ValidAccessToken(context.Background())
	if !ok || tok != access {
		t.Fatalf("expected stored token, got %q ok=%v", tok, ok)
	}
}

func TestGate_ExpiredWithoutRefreshToken(t *testing.T) {
	access := tokenExpiringAt(t, time.Now().Add(-time.Minute))
	g := NewGate(store.NewMemoryStore(domain.Credential{AccessToken: access}), nil, testLogger())

	if _, ok := g.ValidAccessToken(context.Background()); ok {
		t.Fatal("expected no token when expired and no refresh token")
	}
}

func TestGate_UndecodableTokenTreatedAsExpired(t *testing.T) {
	var calls int32
	st := store.NewMemoryStore(domain.Credential{AccessToken: "not-a-jwt", RefreshToken: "r"})
	g := NewGate(st, refresherFunc(func(context.Context, string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	}), testLogger())

	tok, ok := g.ValidAccessToken(context.Background())
	if !ok || tok != "fresh" {
		t.Fatalf("expected refreshed token, got %q ok=%v", tok, ok)
	}
	if calls != 1 {
		t.Fatalf("expected 1 refresh, got %d", calls)
	}
}

func TestGate_MissingExpClaimTreatedAsExpired(t *testing.T) {
	access := signedToken(t, jwt.MapClaims{"user_id": 7})
	g := NewGate(store.NewMemoryStore(domain.Credential{AccessToken: access}), nil, testLogger())

	if _, ok := g.ValidAccessToken(context.Background()); ok {
		t.Fatal("token without exp must be treated as expired")
	}
}

func TestGate_RefreshSuccessPersistsPair(t *testing.T) {
	expired := tokenExpiringAt(t, time.Now().Add(-time.Minute))
	fresh := tokenExpiringAt(t, time.Now().Add(time.Hour))
	st := store.NewMemoryStore(domain.Credential{AccessToken: expired, RefreshToken: "r1", Operator: "ops@example.com"})

	g := NewGate(st, refresherFunc(func(_ context.Context, rt string) (string, error) {
		if rt != "r1" {
			t.Errorf("unexpected refresh token %q", rt)
		}
		return fresh, nil
	}), testLogger())

	tok, ok := g.ValidAccessToken(context.Background())
	if !ok || tok != fresh {
		t.Fatalf("expected fresh token, got ok=%v", ok)
	}

	cred, _ := st.LoadCredential(context.Background())
	if cred.AccessToken != fresh || cred.RefreshToken != "r1" || cred.Operator != "ops@example.com" {
		t.Fatalf("unexpected persisted credential %+v", cred)
	}
}

func TestGate_RefreshFailureReturnsNoToken(t *testing.T) {
	expired := tokenExpiringAt(t, time.Now().Add(-time.Minute))
	st := store.NewMemoryStore(domain.Credential{AccessToken: expired, RefreshToken: "r1"})
	g := NewGate(st, refresherFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	}), testLogger())

	tok, ok := g.ValidAccessToken(context.Background())
	if ok || tok != "" {
		t.Fatalf("expected no token after failed refresh, got %q", tok)
	}

	cred, _ := st.LoadCredential(context.Background())
	if cred.AccessToken != expired {
		t.Fatal("failed refresh must not touch the stored token")
	}
}

func TestGate_RefreshOverHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Token is blacklisted"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	expired := tokenExpiringAt(t, time.Now().Add(-time.Minute))
	g := NewGate(store.NewMemoryStore(domain.Credential{AccessToken: expired, RefreshToken: "r1"}), NewClient(srv.URL, srv.Client()), testLogger())

	if _, ok := g.ValidAccessToken(context.Background()); ok {
		t.Fatal("expected no token when the refresh endpoint rejects")
	}
}

func TestGate_ConcurrentCallersShareOneRefresh(t *testing.T) {
	const callers = 8
	expired := tokenExpiringAt(t, time.Now().Add(-time.Minute))
	fresh := tokenExpiringAt(t, time.Now().Add(time.Hour))
	st := &countingStore{MemoryStore: store.NewMemoryStore(domain.Credential{AccessToken: expired, RefreshToken: "r1"})}

	var calls int32
	g := NewGate(st, refresherFunc(func(context.Context, string) (string, error) {
		atomic.AddInt32(&calls, 1)
		for st.loads.Load() < callers {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(50 * time.Millisecond)
		return fresh, nil
	}), testLogger())

	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = g.ValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", got)
	}
	for i, r := range results {
		if r != fresh {
			t.Fatalf("caller %d got %q", i, r)
		}
	}
}

func TestGate_Session(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	st := store.NewMemoryStore(domain.Credential{AccessToken: tokenExpiringAt(t, exp), RefreshToken: "r", Operator: "ops@example.com"})
	g := NewGate(st, nil, testLogger())

	s, err := g.Session(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.SignedIn || s.Expired || !s.CanRefresh || s.Operator != "ops@example.com" {
		t.Fatalf("unexpected session %+v", s)
	}
	if !s.AccessExpires.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, s.AccessExpires)
	}
}

func TestGate_InjectedClock(t *testing.T) {
	exp := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	access := tokenExpiringAt(t, exp)
	g := NewGate(store.NewMemoryStore(domain.Credential{AccessToken: access}), nil, testLogger())

	g.now = func() time.Time { return exp.Add(-time.Second) }
	if _, ok := g.ValidAccessToken(context.Background()); !ok {
		t.Fatal("token should be valid one second before exp")
	}

	g.now = func() time.Time { return exp.Add(time.Millisecond) }
	if _, ok := g.ValidAccessToken(context.Background()); ok {
		t.Fatal("token should be expired just after exp")
	}
}

func TestGate_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	expired := tokenExpiringAt(t, time.Now().Add(-time.Minute))
	fresh := tokenExpiringAt(t, time.Now().Add(time.Hour))
	st := &countingStore{MemoryStore: store.NewMemoryStore(domain.Credential{AccessToken: expired, RefreshToken: "r1"})}

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var refreshErr atomic.Value
	g := NewGate(st, refresherFunc(func(ctx context.Context, _ string) (string, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		if err := ctx.Err(); err != nil {
			refreshErr.Store(err)
			return "", err
		}
		return fresh, nil
	}), testLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan bool, 1)
	go func() {
		_, ok := g.ValidAccessToken(firstCtx)
		firstDone <- ok
	}()
	<-entered

	secondDone := make(chan string, 1)
	go func() {
		tok, _ := g.ValidAccessToken(context.Background())
		secondDone <- tok
	}()
	for st.loads.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)

	cancelFirst()
	select {
	case ok := <-firstDone:
		if ok {
			t.Fatal("cancelled caller must not get a token")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case tok := <-secondDone:
		if tok != fresh {
			t.Fatalf("second caller should get the refreshed token, got %q", tok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	if err := refreshErr.Load(); err != nil {
		t.Fatalf("shared refresh saw a cancelled context: %v", err)
	}
}
