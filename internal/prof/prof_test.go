package prof

import (
	"context"
	"testing"
)

func TestStart_DisabledReturnsNoopStop(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if stop == nil {
		t.Fatal("nil stop")
	}
	stop()
}

func TestStart_RequiresServerAddress(t *testing.T) {
	stop, err := Start(context.Background(), Options{Enabled: true})
	if err == nil {
		t.Fatal("Start accepted empty server address")
	}
	if stop == nil {
		t.Fatal("nil stop on error")
	}
	stop()
}
