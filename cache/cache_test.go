package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type profile struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "radar"), mr
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	want := profile{Email: "ceo@example.com", Role: "ceo"}
	if err := c.Set(ctx, "profile:1", want, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := Get[profile](ctx, c, "profile:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestGetMissingKeyReportsMiss(t *testing.T) {
	c, _ := newTestCache(t)

	if _, err := Get[profile](context.Background(), c, "absent"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestGetUndecodableValueReportsMiss(t *testing.T) {
	c, mr := newTestCache(t)

	mr.Set("radar:broken", "{not json")
	if _, err := Get[profile](context.Background(), c, "broken"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for undecodable value, got %v", err)
	}
}

func TestEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "ephemeral", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := Get[string](ctx, c, "ephemeral"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestDeleteAndExists(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", 42, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ok, err := c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, err = c.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v; want false", ok, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete of missing key failed: %v", err)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for _, key := range []string{"profile:1", "profile:2", "profile:3", "session:1"} {
		if err := c.Set(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	removed, err := c.InvalidatePrefix(ctx, "profile:")
	if err != nil {
		t.Fatalf("InvalidatePrefix failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}

	if _, err := Get[string](ctx, c, "profile:2"); !errors.Is(err, ErrMiss) {
		t.Fatal("profile entry survived invalidation")
	}
	if _, err := Get[string](ctx, c, "session:1"); err != nil {
		t.Fatalf("unrelated entry was removed: %v", err)
	}
}

func TestGetOrCompute(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	load := func(ctx context.Context) (profile, error) {
		calls++
		return profile{Email: "cfo@example.com", Role: "cfo"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrCompute(ctx, c, "profile:cfo", time.Minute, load)
		if err != nil {
			t.Fatalf("GetOrCompute failed: %v", err)
		}
		if got.Role != "cfo" {
			t.Fatalf("got %+v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("load failed")
	calls := 0
	load := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "recovered", nil
	}

	if _, err := GetOrCompute(ctx, c, "flaky", time.Minute, load); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	got, err := GetOrCompute(ctx, c, "flaky", time.Minute, load)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("got %q", got)
	}
}

func TestKeyHashesParts(t *testing.T) {
	a := Key("profile", "ceo@example.com")
	b := Key("profile", "ceo@example.com")
	other := Key("profile", "cfo@example.com")

	if a != b {
		t.Fatal("Key is not deterministic")
	}
	if a == other {
		t.Fatal("distinct parts produced the same key")
	}
	if strings.Contains(a, "@") {
		t.Fatalf("raw part leaked into key %q", a)
	}
	if !strings.HasPrefix(a, "profile:") {
		t.Fatalf("key %q missing namespace", a)
	}
}
