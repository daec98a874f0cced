package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/beds"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Explicit(t *testing.T) {
	p := paramsFor(t, "?limit=5&offset=10")
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("expected {5 10}, got %+v", p)
	}
}

func TestFromContext_ClampsToMax(t *testing.T) {
	p := paramsFor(t, "?limit=9999")
	if p.Limit != MaxLimit {
		t.Errorf("expected clamp to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeValues(t *testing.T) {
	p := paramsFor(t, "?limit=-1&offset=-5")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults on negatives, got %+v", p)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	r := NewResponse([]int{1, 2, 3}, 10, Params{Limit: 3, Offset: 0})
	if !r.HasMore {
		t.Error("expected has_more true")
	}
	r = NewResponse([]int{1}, 10, Params{Limit: 3, Offset: 9})
	if r.HasMore {
		t.Error("expected has_more false on last page")
	}
}
