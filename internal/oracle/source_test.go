package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestHTTPSourceCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price" {
			t.Fatalf("路径应为 /price, 实际 %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"1234.56"}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	price, err := source.Current(context.Background())
	if err != nil {
		t.Fatalf("Current 失败: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1234.56")) {
		t.Fatalf("价格不匹配: %s", price)
	}
}

func TestHTTPSourceAcceptsNumericPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":99.5}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	price, err := source.Current(context.Background())
	if err != nil {
		t.Fatalf("Current 失败: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("99.5")) {
		t.Fatalf("价格不匹配: %s", price)
	}
}

func TestHTTPSourceRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":"0"}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := source.Current(context.Background()); err == nil {
		t.Fatal("价格为 0 应报错")
	}
}

func TestHTTPSourceParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"oracle offline"}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := source.Current(context.Background())
	if err == nil || !strings.Contains(err.Error(), "oracle offline") {
		t.Fatalf("期望透出上游错误, 实际 %v", err)
	}
}

func TestHTTPSourceRequiresBaseURL(t *testing.T) {
	source := NewHTTPSource(HTTPOptions{}, zerolog.Nop())
	if _, err := source.Current(context.Background()); err == nil {
		t.Fatal("缺少 base url 应报错")
	}
}

func TestStaticSource(t *testing.T) {
	price, err := NewStaticSource(decimal.RequireFromString("42")).Current(context.Background())
	if err != nil {
		t.Fatalf("静态价格源失败: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("42")) {
		t.Fatalf("价格不匹配: %s", price)
	}

	if _, err := NewStaticSource(decimal.Zero).Current(context.Background()); err == nil {
		t.Fatal("非正静态价格应报错")
	}
}
