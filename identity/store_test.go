package identity

import (
	"context"
	"errors"
	"testing"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newIdentityStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "p"), mr
}

func TestSaveAndLookup(t *testing.T) {
	store, mr := newIdentityStoreTest(t)
	ctx := context.Background()

	want := goRealtime.Principal{SubjectID: "t1", Role: goRealtime.RoleTeacher, IsActive: true, DisplayName: "Ada"}
	if err := store.SavePrincipal(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := mr.HGet("p:t1", "role"); got != goRealtime.RoleTeacher {
		t.Fatalf("expected role field teacher, got %q", got)
	}

	got, err := store.LookupPrincipal(ctx, "t1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestLookupUnknownSubject(t *testing.T) {
	store, _ := newIdentityStoreTest(t)
	_, err := store.LookupPrincipal(context.Background(), "nobody")
	if !errors.Is(err, goRealtime.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestSetActiveDeactivates(t *testing.T) {
	store, _ := newIdentityStoreTest(t)
	ctx := context.Background()

	if err := store.SavePrincipal(ctx, goRealtime.Principal{SubjectID: "s1", Role: goRealtime.RoleStudent, IsActive: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SetActive(ctx, "s1", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	got, err := store.LookupPrincipal(ctx, "s1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.IsActive {
		t.Fatal("expected principal inactive")
	}

	if err := store.SetActive(ctx, "missing", true); !errors.Is(err, goRealtime.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestDeleteAndCorruptRecord(t *testing.T) {
	store, mr := newIdentityStoreTest(t)
	ctx := context.Background()

	mr.HSet("p:bad", "role", "admin", "active", "maybe")
	if _, err := store.LookupPrincipal(ctx, "bad"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}

	if err := store.Delete(ctx, "bad"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "bad"); err != nil {
		t.Fatalf("second delete must be idempotent: %v", err)
	}
	if _, err := store.LookupPrincipal(ctx, "bad"); !errors.Is(err, goRealtime.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestRedisOutageIsNotNotFound(t *testing.T) {
	store, mr := newIdentityStoreTest(t)
	mr.SetError("LOADING dataset")

	_, err := store.LookupPrincipal(context.Background(), "t1")
	if !errors.Is(err, ErrRedisUnavailable) || errors.Is(err, goRealtime.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
