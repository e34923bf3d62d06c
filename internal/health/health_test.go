package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFixed(t *testing.T) {
	if err := Fixed(true, "").Check(context.Background()); err != nil {
		t.Errorf("Fixed(true) = %v", err)
	}
	if err := Fixed(false, "maintenance").Check(context.Background()); err == nil || err.Error() != "maintenance" {
		t.Errorf("Fixed(false) = %v", err)
	}
}

func TestAll(t *testing.T) {
	pass := CheckFunc(func(context.Context) error { return nil })
	fail := CheckFunc(func(context.Context) error { return errors.New("redis unreachable") })

	if err := All(pass, nil, pass).Check(context.Background()); err != nil {
		t.Errorf("all passing = %v", err)
	}
	if err := All(pass, fail, pass).Check(context.Background()); err == nil {
		t.Error("failing probe not surfaced")
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil {
		t.Errorf("fresh gate = %v", err)
	}

	g.Set("draining")
	if err := p.Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Errorf("closed gate = %v", err)
	}

	g.Clear()
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("cleared gate = %v", err)
	}
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(Fixed(true, ""), "ok").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthy: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	Handler(Fixed(false, "draining"), "ok").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "draining") {
		t.Errorf("unready: %d %q", rec.Code, rec.Body.String())
	}
}
