package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	url := fmt.Sprintf("redis://%s/3?pool_size=7&dial_timeout=3s", mr.Addr())
	rdb, err := Connect(context.Background(), url)
	if err != nil {
		mr.Close()
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()
	opts := rdb.Options()
	if opts.DB != 3 || opts.PoolSize != 7 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("query options must be honoured: db=%d pool=%d dial=%v", opts.DB, opts.PoolSize, opts.DialTimeout)
	}
	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.Select(3)
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("write must land in db 3, got %q", got)
	}

	mr.Close()
	if _, err := Connect(context.Background(), url); err == nil {
		t.Fatalf("expected ping failure after server shutdown")
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	for _, bad := range []string{"http://cache:6379", "redis://cache:6379/x"} {
		if _, err := Connect(context.Background(), bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
