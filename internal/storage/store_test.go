package storage_test

import (
	"context"
	"errors"
	"testing"

	"drover/internal/storage"
	"drover/internal/testsupport"
)

func TestOpenCreatesSchemaOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)

	// A second process opening the same file must accept the existing schema.
	second, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer second.Close()

	health, err := db.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.Exists || !health.Readable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version %d", health.SchemaVersion)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)
	if _, err := db.Exec(context.Background(), "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}

	_, err := storage.Open(cfg)
	if !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, ok, err := db.GetSetting(ctx, "daemon_mode"); err != nil || ok {
		t.Fatalf("expected missing setting, ok=%v err=%v", ok, err)
	}
	if err := db.SetSetting(ctx, "daemon_mode", "1"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := db.SetSetting(ctx, "daemon_mode", "2"); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}
	value, ok, err := db.GetSetting(ctx, "daemon_mode")
	if err != nil || !ok || value != "2" {
		t.Fatalf("unexpected setting value=%q ok=%v err=%v", value, ok, err)
	}
	if err := db.DeleteSetting(ctx, "daemon_mode"); err != nil {
		t.Fatalf("DeleteSetting failed: %v", err)
	}
	if err := db.DeleteSetting(ctx, "daemon_mode"); err != nil {
		t.Fatalf("DeleteSetting should be idempotent: %v", err)
	}
}

func TestReconnectKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := db.SetSetting(ctx, "k", "v"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := db.Reconnect(); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping after reconnect failed: %v", err)
	}
	value, ok, err := db.GetSetting(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("setting lost across reconnect: value=%q ok=%v err=%v", value, ok, err)
	}
}
