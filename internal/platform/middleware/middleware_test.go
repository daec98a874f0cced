package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/wards")

	mw := RequestID()
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id header")
	}
	if rid, _ := c.Get("request_id").(string); rid == "" {
		t.Error("expected request_id in context")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/wards")
	c.Request().Header.Set(RequestIDHeader, "req-123")

	mw := RequestID()
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Errorf("expected req-123 preserved, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/beds")

	logger := zerolog.Nop()
	mw := Recovery(logger)
	h := mw(func(c echo.Context) error { panic("boom") })

	err := h(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 HTTPError, got %v", err)
	}
}

func TestRateLimit_Allows(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 5})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 5; i++ {
		c, _ := newTestContext(http.MethodGet, "/beds")
		if err := h(c); err != nil {
			t.Fatalf("request %d unexpectedly limited: %v", i, err)
		}
	}
}

func TestRateLimit_Blocks(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	c, _ := newTestContext(http.MethodGet, "/beds")
	if err := h(c); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}

	c2, _ := newTestContext(http.MethodGet, "/beds")
	err := h(c2)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", err)
	}
}
