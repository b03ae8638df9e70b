package lru

import (
	"testing"

	"github.com/dinedir/restaurants/internal/cache/cachestrategy"
)

func TestStrategy_EvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Add("a", cachestrategy.Entry{Value: []byte("a")})
	s.Add("b", cachestrategy.Entry{Value: []byte("b")})
	s.Get("a") // a is now more recent than b

	if evicted := s.Add("c", cachestrategy.Entry{Value: []byte("c")}); !evicted {
		t.Error("Add() over capacity reported no eviction")
	}
	if _, ok := s.Get("b"); ok {
		t.Error("Get(b) found an entry that should have been evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("Get(a) missing after eviction of b")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestStrategy_Remove(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.Add("a", cachestrategy.Entry{})
	if !s.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if s.Remove("a") {
		t.Error("Remove(a) second call = true, want false")
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) error = nil, want error")
	}
}
