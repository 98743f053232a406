package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHashIP(t *testing.T) {
	t.Parallel()

	for _, ip := range []string{"192.168.1.1", "::1", "2001:db8::7334", ""} {
		if got := hashIP(ip); len(got) != 16 {
			t.Errorf("hashIP(%q) length = %d, want 16", ip, len(got))
		}
	}
	if hashIP("10.0.0.1") != hashIP("10.0.0.1") {
		t.Error("hash must be deterministic")
	}
	if hashIP("10.0.0.1") == hashIP("10.0.0.2") {
		t.Error("different IPs must not share a bucket")
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	if got := pageKey("members"); got != "dues:page:members" {
		t.Errorf("pageKey = %q", got)
	}
	if got := key("ratelimit", "ab"); got != "dues:ratelimit:ab" {
		t.Errorf("key = %q", got)
	}
}

func TestBucketResult(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		raw       []int64
		wantOK    bool
		wantLeft  int64
		wantRetry time.Duration
		wantReset time.Time
		wantErr   bool
	}{
		{
			name:      "allowed",
			raw:       []int64{1, 0, 4},
			wantOK:    true,
			wantLeft:  4,
			wantReset: now.Add(500 * time.Millisecond),
		},
		{
			name:      "denied",
			raw:       []int64{0, 350, 0},
			wantRetry: 350 * time.Millisecond,
			wantReset: now.Add(350 * time.Millisecond),
		},
		{
			name:    "short reply",
			raw:     []int64{1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := bucketResult(tt.raw, now, 2)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Allowed != tt.wantOK || res.Remaining != tt.wantLeft || res.RetryAfter != tt.wantRetry {
				t.Errorf("got %+v", res)
			}
			if !res.ResetAt.Equal(tt.wantReset) {
				t.Errorf("ResetAt = %v, want %v", res.ResetAt, tt.wantReset)
			}
		})
	}
}

func TestCheckIPRateLimitDisabled(t *testing.T) {
	t.Parallel()

	// No Redis round trip when limiting is off.
	c := &Cache{now: time.Now}
	res, err := c.CheckIPRateLimit(context.Background(), "10.0.0.1", 0, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed || res.Remaining != 7 {
		t.Errorf("got %+v", res)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var c Nop

	if err := c.SetPage(ctx, "members", []byte("x")); err != nil {
		t.Fatalf("SetPage failed: %v", err)
	}
	if _, err := c.GetPage(ctx, "members"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
	if err := c.InvalidatePages(ctx, "members"); err != nil {
		t.Errorf("InvalidatePages failed: %v", err)
	}
}
