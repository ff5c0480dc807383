package display

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/eventbus"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T) fog.Frame {
	t.Helper()
	g, err := fog.NewGeometry(32, 4)
	require.NoError(t, err)

	tex := fog.NewTexture(g)
	for y := 0; y < g.Bounds; y++ {
		for x := 0; x < g.Bounds; x++ {
			tex.SetRGBA(x, y, fog.EncodeCell(x == 0, y < 3))
		}
	}
	return fog.Frame{
		Cycle:        42,
		Bounds:       g.Bounds,
		Image:        tex,
		VisibleCells: 3 * g.Bounds,
		Timestamp:    time.Unix(1700000000, 123).UTC(),
	}
}

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCodec_EncodeDecode(t *testing.T) {
	c := newCodec(t)
	f := testFrame(t)

	data, err := c.Encode(f)
	require.NoError(t, err)
	assert.Equal(t, "FOG1", string(data[:4]))

	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Cycle)
	assert.Equal(t, 8, got.Bounds)
	assert.Equal(t, 24, got.VisibleCells)
	assert.True(t, f.Timestamp.Equal(got.Timestamp))

	blocked, visible := got.At(0, 5)
	assert.True(t, blocked)
	assert.False(t, visible)
	blocked, visible = got.At(4, 1)
	assert.False(t, blocked)
	assert.True(t, visible)

	assert.Equal(t, f.Image.Pix, got.Image().Pix)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	c := newCodec(t)

	_, err := c.Decode([]byte("nope"))
	assert.ErrorIs(t, err, ErrBadFrame)

	data, err := c.Encode(testFrame(t))
	require.NoError(t, err)

	bad := append([]byte(nil), data...)
	bad[4] = 9
	_, err = c.Decode(bad)
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = c.Decode(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrBadFrame)

	huge := append([]byte(nil), data...)
	huge[13], huge[14] = 0x7F, 0xFF
	_, err = c.Decode(huge)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = c.Encode(fog.Frame{Bounds: 4})
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestBusPublisher_PublishesFrames(t *testing.T) {
	c := newCodec(t)
	bus := eventbus.NewMemoryBus(4)

	var mu sync.Mutex
	var got []*eventbus.Envelope
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{EventTypeFrame}},
		func(_ context.Context, ev *eventbus.Envelope) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		})
	require.NoError(t, err)

	p := NewBusPublisher(bus, c, "")
	require.NoError(t, p.Present(context.Background(), testFrame(t)))
	require.NoError(t, bus.Close())

	require.Len(t, got, 1)
	ev := got[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "fogd", ev.Source)
	assert.Equal(t, "42", ev.Metadata["cycle"])

	frame, err := c.Decode(ev.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), frame.Cycle)
}

func TestMulti_JoinsErrors(t *testing.T) {
	calls := 0
	ok := Func(func(context.Context, fog.Frame) error { calls++; return nil })
	boom := Func(func(context.Context, fog.Frame) error { calls++; return errors.New("boom") })

	err := Multi{boom, nil, ok}.Present(context.Background(), fog.Frame{})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 2, calls, "ошибка первого не останавливает остальных")

	assert.NoError(t, Multi{ok}.Present(context.Background(), fog.Frame{}))
}

func TestWritePNG(t *testing.T) {
	f := testFrame(t)

	var raw bytes.Buffer
	require.NoError(t, WritePNG(&raw, f.Image, 1, true))
	img, err := png.Decode(&raw)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	r, g, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Equal(t, uint32(0xFFFF), g)

	var preview bytes.Buffer
	require.NoError(t, WritePNG(&preview, f.Image, 4, false))
	img, err = png.Decode(&preview)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, colorBlockedSeen, Preview(f.Image, 1).RGBAAt(0, 0))
	assert.Equal(t, colorHidden, Preview(f.Image, 1).RGBAAt(5, 6))
}

func TestRedisSink_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	sink := NewRedisSink(client, newCodec(t), config.RedisConfig{KeyPrefix: "fog:test:", TTLSeconds: 5})
	assert.Equal(t, "fog:test:frame:latest", sink.LatestKey())
	assert.Error(t, sink.Present(context.Background(), testFrame(t)))
}

// Требует живого Redis: FOG_TEST_REDIS=127.0.0.1:6379
func TestRedisSink_RoundTrip(t *testing.T) {
	addr := os.Getenv("FOG_TEST_REDIS")
	if addr == "" {
		t.Skip("FOG_TEST_REDIS не задан")
	}
	ctx := context.Background()
	cfg := config.RedisConfig{Addr: addr, KeyPrefix: "fog:test:", TTLSeconds: 5}
	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	sink := NewRedisSink(client, newCodec(t), cfg)
	require.NoError(t, sink.Present(ctx, testFrame(t)))

	got, err := sink.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Cycle)

	cycle, err := client.HGet(ctx, sink.MetaKey(), "cycle").Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cycle)
}
