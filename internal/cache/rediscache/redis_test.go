package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/dinedir/restaurants/internal/cache"
)

func newBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	b, err := New(Config{Addr: s.Addr()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, s
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() error = nil, want error")
	}
}

func TestBackend_GetSetDelete(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if _, err := b.Get(ctx, "restaurant:Nopa"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("Get() error = %v, want ErrMiss", err)
	}

	if err := b.Set(ctx, "restaurant:Nopa", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := b.Get(ctx, "restaurant:Nopa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	if err := b.Delete(ctx, "restaurant:Nopa"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := b.Delete(ctx, "restaurant:Nopa"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
	if _, err := b.Get(ctx, "restaurant:Nopa"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("Get() after delete error = %v, want ErrMiss", err)
	}
}

func TestBackend_TTL(t *testing.T) {
	b, s := newBackend(t)
	ctx := context.Background()

	if err := b.Set(ctx, "short", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := b.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := s.TTL("short"); got != time.Minute {
		t.Errorf("TTL(short) = %v, want 1m", got)
	}

	s.FastForward(2 * time.Minute)

	if _, err := b.Get(ctx, "short"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("Get() after TTL error = %v, want ErrMiss", err)
	}
	if _, err := b.Get(ctx, "forever"); err != nil {
		t.Errorf("Get() without TTL error = %v", err)
	}
}

func TestBackend_ServerDown(t *testing.T) {
	b, s := newBackend(t)
	s.Close()

	_, err := b.Get(context.Background(), "k")
	if err == nil || errors.Is(err, cache.ErrMiss) {
		t.Errorf("Get() error = %v, want a backend failure", err)
	}
}
