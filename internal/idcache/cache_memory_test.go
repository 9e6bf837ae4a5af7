package idcache

import (
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	key := Key("some channel", 1, 0)
	e := Entry{Identity: "v2_abc@finder", ExpiresAt: time.Now().Add(time.Minute)}

	if _, ok := c.Get(key); ok {
		t.Fatalf("expected empty cache miss")
	}
	c.Set(key, e)
	got, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Identity != e.Identity {
		t.Fatalf("identity mismatch: got %q want %q", got.Identity, e.Identity)
	}
}

func TestMemoryCache_Expired(t *testing.T) {
	c := NewMemoryCache()
	key := Key("some channel", 1, 0)
	c.Set(key, Entry{Identity: "v2_old@finder", ExpiresAt: time.Now().Add(-time.Second)})
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected expired entry to be a miss")
	}
}
