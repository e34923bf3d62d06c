package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New error carries no stack")
	}
	frames := runtime.CallersFrames(hs.StackPCs())
	fr, _ := frames.Next()
	if !strings.Contains(fr.Function, "TestNew_CapturesStack") {
		t.Errorf("top frame = %s", fr.Function)
	}
}

func TestWrap_PreservesIdentity(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Wrap(sentinel, "context")

	if !errors.Is(err, sentinel) {
		t.Error("wrapped sentinel lost identity")
	}
	if got := err.Error(); got != "context: sentinel" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}
}

func TestEnsureTrace(t *testing.T) {
	plain := errors.New("plain")
	traced := EnsureTrace(plain)

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(traced, &hs) {
		t.Fatal("EnsureTrace added no stack")
	}
	if !errors.Is(traced, plain) {
		t.Error("EnsureTrace lost identity")
	}

	// already-traced errors pass through unchanged
	if again := EnsureTrace(traced); again != traced {
		t.Error("EnsureTrace re-wrapped a traced error")
	}
	if EnsureTrace(nil) != nil {
		t.Error("EnsureTrace(nil) != nil")
	}
}

func TestNewf(t *testing.T) {
	err := Newf("failed after %d tries", 3)
	if err.Error() != "failed after 3 tries" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapf_FormatsMessage(t *testing.T) {
	base := errors.New("io timeout")
	err := Wrapf(base, "fetch offset %d", 2000)
	want := fmt.Sprintf("fetch offset %d: io timeout", 2000)
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
