package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newRegistryClient(t *testing.T, h *harness, id string, reg *Registry) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn(id)
	c := NewClient(conn, h.container, h.sessions, ClientOptions{}, zerolog.Nop(), nil, reg.Unregister)
	return c, conn
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(nil); err != ErrNilClient {
		t.Errorf("Expected ErrNilClient, got %v", err)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	c, _ := newRegistryClient(t, h, "c1", reg)

	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	got, ok := reg.Get("c1")
	if !ok || got != c {
		t.Error("Registered client not found")
	}
	if reg.Count() != 1 {
		t.Errorf("Expected 1 client, got %d", reg.Count())
	}
}

func TestRegistry_Replacement(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	old, oldConn := newRegistryClient(t, h, "c1", reg)
	fresh, _ := newRegistryClient(t, h, "c1", reg)

	_ = reg.Register(old)
	_ = reg.Register(fresh)

	deadline := time.Now().Add(time.Second)
	for !oldConn.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !oldConn.isClosed() {
		t.Error("Replaced client should be closed")
	}
	// The old client's close hook must not evict its replacement.
	if got, _ := reg.Get("c1"); got != fresh {
		t.Error("Replacement was evicted by the stale client")
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	c, _ := newRegistryClient(t, h, "c1", reg)
	_ = reg.Register(c)

	reg.Unregister(c)
	reg.Unregister(c)
	reg.Unregister(nil)

	if reg.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Count())
	}
}

func TestRegistry_Stats(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	a, _ := newRegistryClient(t, h, "a", reg)
	b, _ := newRegistryClient(t, h, "b", reg)
	_ = reg.Register(a)
	_ = reg.Register(b)
	a.HandleFrame(t.Context(), "Session:tutor-token")

	stats := reg.GetStats()
	if stats["total_connections"] != 2 {
		t.Errorf("Expected 2 connections, got %d", stats["total_connections"])
	}
	if stats["authenticated_connections"] != 1 {
		t.Errorf("Expected 1 authenticated connection, got %d", stats["authenticated_connections"])
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	var conns []*fakeConn
	for _, id := range []string{"a", "b", "c"} {
		c, conn := newRegistryClient(t, h, id, reg)
		_ = reg.Register(c)
		c.HandleFrame(t.Context(), "Session:tutor-token")
		conns = append(conns, conn)
	}

	reg.CloseAll()

	if reg.Count() != 0 {
		t.Errorf("Expected empty registry after CloseAll, got %d", reg.Count())
	}
	for _, conn := range conns {
		if !conn.isClosed() {
			t.Errorf("Connection %s left open", conn.ID())
		}
	}
	if n := h.container.Stats().Listeners; n != 0 {
		t.Errorf("Expected no listeners, got %d", n)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	h := newHarness(t)
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, _ := newRegistryClient(t, h, string(rune('a'+n)), reg)
			_ = reg.Register(c)
			_ = reg.GetStats()
			reg.Unregister(c)
		}(i)
	}
	wg.Wait()
	if reg.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Count())
	}
}
