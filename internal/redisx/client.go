package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Deduper menandai event yang sudah selesai diproses. Mark dipanggil SETELAH
// proses sukses; kalau key di-claim di awal, kegagalan transient di tengah
// bikin redelivery dianggap duplikat dan event-nya hilang.
type Deduper struct {
	R   *redis.Client
	TTL time.Duration
}

func (d Deduper) Seen(ctx context.Context, key string) (bool, error) {
	return Exists(ctx, d.R, key)
}

func (d Deduper) Mark(ctx context.Context, key string) error {
	return d.R.SetNX(ctx, key, "1", d.TTL).Err()
}
