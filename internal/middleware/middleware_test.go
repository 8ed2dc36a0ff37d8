package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/repo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(10*time.Minute, 3)
	defer rl.Close()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "phone:+221771234567")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "phone:+221771234567")
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "phone:+221781234567")
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(10*time.Minute + time.Second)
	ok, _ = rl.Allow(ctx, "phone:+221771234567")
	assert.True(t, ok)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rl := NewRateLimiter(time.Minute, 1)
	defer rl.Close()
	h := RateLimitMiddleware(rl, GetIPKey, logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/send-otp", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.RemoteAddr = "10.0.0.1:5678"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "port is not part of the key")

	rec = httptest.NewRecorder()
	RateLimitMiddleware(failingLimiter{}, GetIPKey, logger)(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "fails open")
}

type stubAccounts struct {
	repo.AccountRepo
	account model.Account
}

func (s stubAccounts) GetByID(_ context.Context, id uuid.UUID) (model.Account, error) {
	if id != s.account.ID {
		return model.Account{}, repo.ErrNotFound
	}
	return s.account, nil
}

func TestAuthMiddleware(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", time.Hour)
	account := model.Account{ID: uuid.New(), Phone: "+221771234567"}
	mw := AuthMiddleware(jwtSvc, stubAccounts{account: account})

	var seen *model.Account
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAccount(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tok, err := jwtSvc.SignAccessToken(account.ID, account.Phone)
	require.NoError(t, err)
	stranger, err := jwtSvc.SignAccessToken(uuid.New(), "+221781234567")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + tok.Token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok.Token, http.StatusUnauthorized},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized},
		{"unknown account", "Bearer " + stranger.Token, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, account.ID, seen.ID)
			} else {
				assert.JSONEq(t, `{"message":"Non authentifié."}`, rec.Body.String())
			}
		})
	}
}

func TestRedisRateLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	rl := NewRedisRateLimiter(client, "test:"+uuid.NewString(), time.Minute, 2)
	ctx := context.Background()
	for _, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
}
