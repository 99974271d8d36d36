package module

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "modules.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, sampleModule()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	m, err := s.Get(ctx, "demo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Class("Point") == nil {
		t.Error("stored module lost its class")
	}
}

func TestStoreReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := sampleModule()
	if err := s.Put(ctx, m); err != nil {
		t.Fatal(err)
	}
	m.Classes[0].Name = "Vector"
	if err := s.Put(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if got.Class("Vector") == nil || got.Class("Point") != nil {
		t.Error("Put should replace the previous module")
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "demo" || entries[0].Size == 0 {
		t.Errorf("List = %+v", entries)
	}
}

func TestStoreMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Get err = %v, want ErrModuleNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Delete err = %v, want ErrModuleNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, sampleModule()); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "demo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("List after delete = %+v", entries)
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(context.Background(), &Module{}); err == nil {
		t.Error("expected validation error")
	}
}
