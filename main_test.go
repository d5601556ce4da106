package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
	"github.com/Sonket19/AI-Pitch-Lens/service"
)

func TestOpenDealStoreMemoryLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(&logger.Config{Level: "info", Format: "text", Output: &buf})
	defer logger.Init(&logger.Config{Level: "info", Format: "text"})

	store, closeStore, err := openDealStore(context.Background(), &config.StoreConfig{Driver: "memory", MaxDeals: 10}, service.NewHub())
	if err != nil {
		t.Fatalf("openDealStore() error = %v", err)
	}
	defer closeStore()
	if _, ok := store.(*service.MemoryStore); !ok {
		t.Errorf("Expected *service.MemoryStore, got %T", store)
	}

	if n := strings.Count(buf.String(), "deal store initialized"); n != 1 {
		t.Errorf("Expected one initialization log line, got %d in %q", n, buf.String())
	}
}

func TestOpenDealStoreSQLite(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	store, closeStore, err := openDealStore(context.Background(), &config.StoreConfig{Driver: "sqlite3", DSN: ":memory:"}, service.NewHub())
	if err != nil {
		t.Fatalf("openDealStore() error = %v", err)
	}
	defer closeStore()
	if _, ok := store.(*service.SQLStore); !ok {
		t.Errorf("Expected *service.SQLStore, got %T", store)
	}
}
