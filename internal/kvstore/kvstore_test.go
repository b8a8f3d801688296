package kvstore

import (
	"testing"
	"time"

	"github.com/ambonmud/server/internal/clock"
)

func TestMemoryTTL(t *testing.T) {
	clk := clock.NewManual(0)
	kv := NewMemory(clk)

	kv.Set("lease:engine-1", "addr", 10*time.Second)
	if v, ok := kv.Get("lease:engine-1"); !ok || v != "addr" {
		t.Fatalf("Get = %q,%v", v, ok)
	}

	clk.Advance(11 * time.Second)
	if _, ok := kv.Get("lease:engine-1"); ok {
		t.Error("expired key still readable")
	}
}

func TestMemorySetNX(t *testing.T) {
	clk := clock.NewManual(0)
	kv := NewMemory(clk)

	if !kv.SetNX("gw:1", "a", 5*time.Second) {
		t.Fatal("first SetNX failed")
	}
	if kv.SetNX("gw:1", "b", 5*time.Second) {
		t.Error("SetNX overwrote a live key")
	}
	clk.Advance(6 * time.Second)
	if !kv.SetNX("gw:1", "b", 5*time.Second) {
		t.Error("SetNX refused an expired key")
	}
}

func TestMemoryExpireAndKeys(t *testing.T) {
	clk := clock.NewManual(0)
	kv := NewMemory(clk)

	kv.Set("zone:hubz", "e1", 5*time.Second)
	kv.Set("zone:cavez", "e2", 5*time.Second)
	kv.Set("other", "x", 5*time.Second)

	if got := len(kv.Keys("zone:")); got != 2 {
		t.Errorf("Keys(zone:) = %d entries, want 2", got)
	}

	clk.Advance(4 * time.Second)
	if !kv.Expire("zone:hubz", 10*time.Second) {
		t.Fatal("Expire failed on live key")
	}
	clk.Advance(2 * time.Second)
	if _, ok := kv.Get("zone:hubz"); !ok {
		t.Error("renewed key expired")
	}
	if _, ok := kv.Get("zone:cavez"); ok {
		t.Error("unrenewed key survived")
	}
}
