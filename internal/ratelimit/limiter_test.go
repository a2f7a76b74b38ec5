package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter()
	now := time.Now()
	key := Key(KeyApp, "app-1")

	if !l.Allow(key, 1, 2, now) {
		t.Fatalf("expected first trigger allowed")
	}
	if !l.Allow(key, 1, 2, now) {
		t.Fatalf("expected second trigger allowed")
	}
	if l.Allow(key, 1, 2, now) {
		t.Fatalf("expected third trigger limited")
	}

	later := now.Add(1500 * time.Millisecond)
	if !l.Allow(key, 1, 2, later) {
		t.Fatalf("expected refill to allow after time")
	}
}

func TestLimiterDifferentKeys(t *testing.T) {
	l := NewLimiter()
	now := time.Now()

	if !l.Allow(Key(KeyApp, "a"), 1, 1, now) {
		t.Fatalf("expected first key allowed")
	}
	if !l.Allow(Key(KeyApp, "b"), 1, 1, now) {
		t.Fatalf("expected second key allowed")
	}
}

func TestLimiterKeyTypesAreSeparate(t *testing.T) {
	l := NewLimiter()
	now := time.Now()

	if !l.Allow(Key(KeyServer, "edge"), 1, 1, now) {
		t.Fatalf("expected server key allowed")
	}
	if l.Allow(Key(KeyServer, "edge"), 1, 1, now) {
		t.Fatalf("expected server key limited")
	}
	if !l.Allow(Key(KeyApp, "edge"), 1, 1, now) {
		t.Fatalf("app bucket must not share the server bucket")
	}
}

func TestKeyEmpty(t *testing.T) {
	if Key(KeyApp, "") != "" {
		t.Fatalf("expected empty key for empty id")
	}
	if !NewLimiter().Allow("", 1, 1, time.Now()) {
		t.Fatalf("expected empty key to bypass limiting")
	}
}
