package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"

	"github.com/MrSnakeDoc/snip/internal/config"
	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/identity"
	"github.com/MrSnakeDoc/snip/internal/links"
	"github.com/MrSnakeDoc/snip/internal/logger"
	"github.com/MrSnakeDoc/snip/internal/store"
	"github.com/MrSnakeDoc/snip/internal/store/memory"
	"github.com/MrSnakeDoc/snip/internal/txn"
)

var testToken = strings.Repeat("ab", 32)

type testEnv struct {
	e     *httpexpect.Expect
	store *memory.Store
}

type option func(*deps.Deps, *[]txn.Option, *[]memory.Option)

func withRateLimit(burst int) option {
	return func(d *deps.Deps, _ *[]txn.Option, _ *[]memory.Option) {
		d.RateLimit = config.RateLimitConfig{Enabled: true, Burst: burst, RefillPerMin: 1}
	}
}

func withAdminCIDRs(cidrs ...string) option {
	return func(d *deps.Deps, _ *[]txn.Option, _ *[]memory.Option) { d.AllowedCIDRS = cidrs }
}

func withCORS(origins ...string) option {
	return func(d *deps.Deps, _ *[]txn.Option, _ *[]memory.Option) { d.CORSOrigins = origins }
}

func withSlowStore(delay, txTimeout time.Duration) option {
	return func(_ *deps.Deps, to *[]txn.Option, mo *[]memory.Option) {
		*to = append(*to, txn.WithTimeout(txTimeout))
		*mo = append(*mo, memory.WithFault(func(op string) error {
			if op == "set" {
				time.Sleep(delay)
			}
			return nil
		}))
	}
}

func newEnv(t *testing.T, opts ...option) testEnv {
	t.Helper()

	d := deps.Deps{
		Logger:    logger.NewNop(),
		StartTime: time.Now(),
		Version:   "test",
		Backend:   memory.Name,
	}
	var txOpts []txn.Option
	var memOpts []memory.Option
	for _, o := range opts {
		o(&d, &txOpts, &memOpts)
	}

	st := memory.New(memOpts...)
	svc := links.NewService(txn.New(st, txOpts...), links.Options{BaseURL: "https://8l.wtf"}, d.Logger)
	d.Links = svc
	d.Ready = func(ctx context.Context) error { return store.Ready(ctx, st) }

	cfg := config.ServerConfig{RequestTimeout: 5 * time.Second}
	srv := httptest.NewServer(NewRouter(cfg, d.Logger, d))
	t.Cleanup(srv.Close)

	e := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewAssertReporter(t),
		Client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	})
	return testEnv{e: e, store: st}
}

func TestShorten_Anonymous(t *testing.T) {
	env := newEnv(t)

	created := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://example.com"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	created.HasValue("authenticated", false)
	created.NotContainsKey("expiresAt")
	id := created.Value("shortId").String().Raw()
	created.HasValue("fullUrl", "https://8l.wtf/"+id)
	created.HasValue("deleteProxyUrl", "https://8l.wtf/delete-proxy?id="+id)

	env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://example.com"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("shortId", id)

	env.e.GET("/"+id).
		Expect().
		Status(http.StatusFound).
		Header("Location").IsEqual("https://example.com")

	env.e.POST("/api/get-url").
		WithJSON(map[string]any{"shortId": id}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("url", "https://example.com")
}

func TestShorten_WithExpiry(t *testing.T) {
	env := newEnv(t)

	obj := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://example.com/ttl", "maxAge": 60}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	raw := obj.Value("expiresAt").String().Raw()
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatalf("expiresAt %q: %v", raw, err)
	}
	if d := time.Until(at); d < 50*time.Second || d > 61*time.Second {
		t.Errorf("expiresAt %v is not about a minute away", at)
	}
}

func TestShorten_Validation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "empty body", body: nil, status: http.StatusBadRequest},
		{name: "wrong type", body: "just a string", status: http.StatusBadRequest},
		{name: "missing url", body: map[string]any{}, status: http.StatusBadRequest},
		{name: "not http", body: map[string]any{"url": "ftp://example.com"}, status: http.StatusBadRequest},
		{name: "negative maxAge", body: map[string]any{"url": "https://x.y", "maxAge": -1}, status: http.StatusBadRequest},
		{name: "malformed token", body: map[string]any{"url": "https://x.y", "token": "nope"}, status: http.StatusUnauthorized},
		{name: "malformed seed", body: map[string]any{"url": "https://x.y", "seed": "?"}, status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.e.POST("/api/shorten")
			if tt.body != nil {
				req = req.WithJSON(tt.body)
			}
			obj := req.Expect().Status(tt.status).JSON().Object()
			obj.HasValue("status", "error")
			obj.ContainsKey("error")
		})
	}
}

func TestOwnedLinks(t *testing.T) {
	env := newEnv(t)

	tok := env.e.GET("/api/token").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	token := tok.Value("token").String().Raw()
	seed := tok.Value("seed").String().Raw()
	if err := identity.ValidateToken(token); err != nil {
		t.Fatalf("issued token is malformed: %v", err)
	}
	if derived, _ := identity.DeriveSeed(token); derived != seed {
		t.Fatalf("seed %q does not match token, want %q", seed, derived)
	}

	created := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://private.example", "token": token}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	created.HasValue("authenticated", true)
	id := created.Value("shortId").String().Raw()

	t.Run("get-url decrypts with token", func(t *testing.T) {
		env.e.POST("/api/get-url").
			WithJSON(map[string]any{"shortId": id, "token": token}).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			HasValue("url", "https://private.example")
	})

	t.Run("get-url with seed returns ciphertext", func(t *testing.T) {
		url := env.e.POST("/api/get-url").
			WithJSON(map[string]any{"shortId": id, "seed": seed}).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("url").String().Raw()
		if !identity.IsCiphertext(url) {
			t.Errorf("expected ciphertext, got %q", url)
		}
	})

	t.Run("get-url without seed", func(t *testing.T) {
		env.e.POST("/api/get-url").
			WithJSON(map[string]any{"shortId": id}).
			Expect().
			Status(http.StatusBadRequest)
	})

	t.Run("foreign token looks like not found", func(t *testing.T) {
		env.e.POST("/api/get-url").
			WithJSON(map[string]any{"shortId": id, "token": strings.Repeat("cd", 32)}).
			Expect().
			Status(http.StatusNotFound).
			JSON().Object().
			HasValue("error", "url not found")
	})

	t.Run("redirect needs the token", func(t *testing.T) {
		env.e.GET("/"+id).
			Expect().
			Status(http.StatusBadRequest)

		env.e.GET("/"+id).
			WithQuery("token", token).
			Expect().
			Status(http.StatusFound).
			Header("Location").IsEqual("https://private.example")
	})

	t.Run("get-urls lists decrypted links", func(t *testing.T) {
		urls := env.e.POST("/api/get-urls").
			WithJSON(map[string]any{"token": token}).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("urls").Array()
		urls.Length().IsEqual(1)
		urls.Value(0).Object().HasValue("url", "https://private.example")
	})

	t.Run("get-urls needs an owner", func(t *testing.T) {
		env.e.POST("/api/get-urls").
			WithJSON(map[string]any{}).
			Expect().
			Status(http.StatusBadRequest)
	})
}

func TestGetURLs_UndecryptableEntry(t *testing.T) {
	env := newEnv(t)
	seed, err := identity.DeriveSeed(testToken)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := identity.Encrypt("https://other-key.example", strings.Repeat("cd", 32))
	if err != nil {
		t.Fatal(err)
	}

	// Client-side encrypted under a key that is not the owner's token.
	broken := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": foreign, "seed": seed}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("shortId").String().Raw()
	good := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://mine.example", "token": testToken}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("shortId").String().Raw()

	urls := env.e.POST("/api/get-urls").
		WithJSON(map[string]any{"token": testToken}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("urls").Array()
	urls.Length().IsEqual(2)

	seen := map[string]bool{}
	for _, v := range urls.Iter() {
		item := v.Object()
		switch id := item.Value("shortId").String().Raw(); id {
		case broken:
			item.HasValue("error", "decryption failed")
			item.NotContainsKey("url")
			seen[id] = true
		case good:
			item.HasValue("url", "https://mine.example")
			item.NotContainsKey("error")
			seen[id] = true
		}
	}
	if len(seen) != 2 {
		t.Errorf("expected both links in the listing, saw %v", seen)
	}

	env.e.POST("/api/get-url").
		WithJSON(map[string]any{"shortId": broken, "token": testToken}).
		Expect().
		Status(http.StatusBadRequest)
}

func TestUnshorten_PartialResults(t *testing.T) {
	env := newEnv(t)
	other := strings.Repeat("cd", 32)

	mine := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://mine.example", "token": testToken}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("shortId").String().Raw()
	theirs := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://theirs.example", "token": other}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("shortId").String().Raw()

	results := env.e.DELETE("/api/shorten").
		WithJSON(map[string]any{"shortIds": []string{mine, theirs}, "token": testToken}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("results").Array()

	results.Length().IsEqual(2)
	first := results.Value(0).Object()
	first.HasValue("shortId", mine)
	first.HasValue("success", true)
	first.NotContainsKey("error")
	second := results.Value(1).Object()
	second.HasValue("shortId", theirs)
	second.HasValue("success", false)
	second.HasValue("error", "Unauthorized")

	env.e.POST("/api/get-url").
		WithJSON(map[string]any{"shortId": mine, "token": testToken}).
		Expect().
		Status(http.StatusNotFound)

	t.Run("empty batch", func(t *testing.T) {
		env.e.DELETE("/api/shorten").
			WithJSON(map[string]any{"shortIds": []string{}, "token": testToken}).
			Expect().
			Status(http.StatusBadRequest)
	})

	t.Run("invalid seed", func(t *testing.T) {
		env.e.DELETE("/api/shorten").
			WithJSON(map[string]any{"shortIds": []string{mine}, "seed": "x"}).
			Expect().
			Status(http.StatusUnauthorized)
	})
}

func TestDeleteProxy(t *testing.T) {
	env := newEnv(t)

	created := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://proxy.example", "token": testToken}).
		Expect().Status(http.StatusOK).
		JSON().Object()
	id := created.Value("shortId").String().Raw()
	created.HasValue("deleteProxyUrl", "https://8l.wtf/delete-proxy?id="+id)

	t.Run("missing id", func(t *testing.T) {
		env.e.GET("/delete-proxy").
			WithQuery("token", testToken).
			Expect().
			Status(http.StatusBadRequest)
	})

	t.Run("foreign token", func(t *testing.T) {
		env.e.GET("/delete-proxy").
			WithQuery("id", id).
			WithQuery("token", strings.Repeat("cd", 32)).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("results").Array().Value(0).Object().
			HasValue("success", false).
			HasValue("error", "Unauthorized")
	})

	resp := env.e.GET("/delete-proxy").
		WithQuery("id", id).
		WithQuery("token", testToken).
		Expect().
		Status(http.StatusOK)
	resp.Header("Cache-Control").NotEmpty()
	item := resp.JSON().Object().Value("results").Array().Value(0).Object()
	item.HasValue("shortId", id)
	item.HasValue("success", true)

	env.e.GET("/" + id).
		WithQuery("token", testToken).
		Expect().
		Status(http.StatusNotFound)
}

func TestRedirect_NotFound(t *testing.T) {
	env := newEnv(t)

	env.e.GET("/doesnotexist").
		Expect().
		Status(http.StatusNotFound).
		Header("Cache-Control").NotEmpty()
}

func TestProbes(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		env := newEnv(t)
		obj := env.e.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object()
		obj.HasValue("status", "ok")
		obj.HasValue("version", "test")
	})

	t.Run("readyz", func(t *testing.T) {
		env := newEnv(t)
		env.e.GET("/readyz").Expect().Status(http.StatusOK).
			JSON().Object().HasValue("ready", true).HasValue("backend", "memory")

		_ = env.store.Close()
		env.e.GET("/readyz").Expect().Status(http.StatusServiceUnavailable).
			JSON().Object().HasValue("ready", false)
	})

	t.Run("readyz outside admin cidrs", func(t *testing.T) {
		env := newEnv(t, withAdminCIDRs("10.0.0.0/8"))
		env.e.GET("/readyz").Expect().Status(http.StatusForbidden)
		env.e.GET("/healthz").Expect().Status(http.StatusOK)
	})
}

func TestStoreErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		env := newEnv(t, withSlowStore(50*time.Millisecond, 10*time.Millisecond))
		env.e.POST("/api/shorten").
			WithJSON(map[string]any{"url": "https://slow.example"}).
			Expect().
			Status(http.StatusGatewayTimeout)
	})

	t.Run("unavailable", func(t *testing.T) {
		env := newEnv(t)
		_ = env.store.Close()
		env.e.POST("/api/shorten").
			WithJSON(map[string]any{"url": "https://down.example"}).
			Expect().
			Status(http.StatusServiceUnavailable)
	})
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, withRateLimit(2))

	for range 2 {
		env.e.POST("/api/shorten").
			WithJSON(map[string]any{"url": "https://example.com"}).
			Expect().
			Status(http.StatusOK).
			Header("X-RateLimit-Limit").IsEqual("2")
	}

	resp := env.e.POST("/api/shorten").
		WithJSON(map[string]any{"url": "https://example.com"}).
		Expect().
		Status(http.StatusTooManyRequests)
	resp.Header("Retry-After").NotEmpty()
	resp.JSON().Object().HasValue("error", "rate limit exceeded")

	// Reads are not limited.
	env.e.POST("/api/get-urls").
		WithJSON(map[string]any{"token": testToken}).
		Expect().
		Status(http.StatusOK)
}

func TestCORS(t *testing.T) {
	env := newEnv(t, withCORS("https://app.example"))

	env.e.OPTIONS("/api/shorten").
		WithHeader("Origin", "https://app.example").
		WithHeader("Access-Control-Request-Method", http.MethodPost).
		Expect().
		Header("Access-Control-Allow-Origin").IsEqual("https://app.example")

	env.e.POST("/api/shorten").
		WithHeader("Origin", "https://evil.example").
		WithJSON(map[string]any{"url": "https://example.com"}).
		Expect().
		Status(http.StatusOK).
		Header("Access-Control-Allow-Origin").IsEmpty()
}
