package display

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/go-redis/redis/v8"
)

// RedisSink хранит последний кадр в Redis и оповещает подписчиков канала.
//
//	<prefix>frame:latest  — закодированный кадр (TTL)
//	<prefix>frame:meta    — hash cycle/bounds/visible/ts
//	<prefix>frames        — pub/sub канал с номером цикла
type RedisSink struct {
	client redis.Cmdable
	codec  *Codec
	prefix string
	ttl    time.Duration
}

// NewRedisClient создаёт клиент и проверяет подключение
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisSink оборачивает готовый клиент
func NewRedisSink(client redis.Cmdable, codec *Codec, cfg config.RedisConfig) *RedisSink {
	return &RedisSink{
		client: client,
		codec:  codec,
		prefix: cfg.KeyPrefix,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}
}

func (s *RedisSink) LatestKey() string { return s.prefix + "frame:latest" }
func (s *RedisSink) MetaKey() string   { return s.prefix + "frame:meta" }
func (s *RedisSink) Channel() string   { return s.prefix + "frames" }

// Present записывает кадр одним пайплайном
func (s *RedisSink) Present(ctx context.Context, f fog.Frame) error {
	payload, err := s.codec.Encode(f)
	if err != nil {
		return err
	}
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.LatestKey(), payload, s.ttl)
		p.HSet(ctx, s.MetaKey(),
			"cycle", f.Cycle,
			"bounds", f.Bounds,
			"visible", f.VisibleCells,
			"ts", f.Timestamp.UnixMilli(),
		)
		if s.ttl > 0 {
			p.Expire(ctx, s.MetaKey(), s.ttl)
		}
		p.Publish(ctx, s.Channel(), f.Cycle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis present frame %d: %w", f.Cycle, err)
	}
	return nil
}

// Latest читает и декодирует последний кадр
func (s *RedisSink) Latest(ctx context.Context) (DecodedFrame, error) {
	data, err := s.client.Get(ctx, s.LatestKey()).Bytes()
	if err != nil {
		return DecodedFrame{}, fmt.Errorf("redis get %s: %w", s.LatestKey(), err)
	}
	return s.codec.Decode(data)
}
