package db

import (
	"context"
	"testing"
)

func TestNewWithInvalidURL(t *testing.T) {
	_, err := New(context.Background(), "postgres://invalid:5432/nonexistent?connect_timeout=1")
	if err == nil {
		t.Fatal("expected error for invalid database URL, got nil")
	}
}

func TestNewWithMalformedURL(t *testing.T) {
	_, err := New(context.Background(), "::not a url::")
	if err == nil {
		t.Fatal("expected parse error for malformed URL, got nil")
	}
}

func TestRunMigrationsMissingDirectory(t *testing.T) {
	err := RunMigrations("postgres://invalid:5432/nonexistent?connect_timeout=1", t.TempDir()+"/missing")
	if err == nil {
		t.Fatal("expected error for missing migrations directory, got nil")
	}
}
