package util_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"notifyhub/pkg/util"
)

func TestAcquireOnceFailsOpenWhenRedisUnavailable(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	d := util.NewDeduper(rdb, time.Hour)
	assert.True(t, d.AcquireOnce(context.Background(), "dispatch_requested", "n1:push"),
		"an unreachable dedup store must allow processing rather than block it")
}

func TestFormatRetryKey(t *testing.T) {
	assert.Equal(t, "retry:dispatch_requested:n1:push",
		util.FormatRetryKey("dispatch_requested", "n1:push"))
}
