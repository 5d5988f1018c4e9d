package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/risk"
)

func TestPublishSetsSnapshotWithTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := New(db, "spreadbot:test", 30*time.Second)

	snap := engine.Snapshot{State: engine.Running, Symbol: "BTCUSDT", RiskLevel: risk.Low, Iterations: 7}
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectSet("spreadbot:test", payload, 30*time.Second).SetVal("OK")

	if err := cache.Publish(context.Background(), snap); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}

func TestPublishSurfacesRedisErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := New(db, "spreadbot:test", time.Minute)
	snap := engine.Snapshot{Symbol: "BTCUSDT"}
	payload, _ := json.Marshal(snap)
	mock.ExpectSet("spreadbot:test", payload, time.Minute).SetErr(redis.TxFailedErr)

	if err := cache.Publish(context.Background(), snap); err == nil {
		t.Fatal("expected error when redis fails")
	}
}

func TestLatest(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := New(db, "spreadbot:test", time.Minute)
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("spreadbot:test").RedisNil()
		_, found, err := cache.Latest(ctx)
		if err != nil || found {
			t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
		}
	})

	t.Run("hit", func(t *testing.T) {
		payload, _ := json.Marshal(engine.Snapshot{Symbol: "ETHUSDT", Paused: true})
		mock.ExpectGet("spreadbot:test").SetVal(string(payload))
		snap, found, err := cache.Latest(ctx)
		if err != nil || !found {
			t.Fatalf("expected hit, got found=%v err=%v", found, err)
		}
		if snap.Symbol != "ETHUSDT" || !snap.Paused {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}
