// Package display доставляет кадры тумана потребителям: в шину событий,
// в Redis и в PNG. Кадр для передачи сжимается zstd.
package display

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/annel0/fog-engine/internal/fog"
	"github.com/klauspost/compress/zstd"
)

// Формат кадра:
//
//	magic "FOG1" | version u8 | cycle u64 | bounds u32 | visible u32 | unix nano i64 | zstd(flags)
//
// flags: по байту на ячейку, строки подряд: бит 0 заблокирована, бит 1 видима.
const (
	frameMagic   = "FOG1"
	frameVersion = 1
	headerSize   = 4 + 1 + 8 + 4 + 4 + 8

	flagBlocked = 1 << 0
	flagVisible = 1 << 1
)

var (
	// ErrBadFrame возвращается для повреждённого или чужого кадра
	ErrBadFrame = errors.New("display: malformed frame")
	// ErrFrameTooLarge означает, что bounds в заголовке больше допустимого
	ErrFrameTooLarge = errors.New("display: frame too large")
)

// MaxBounds ограничивает размер кадра при декодировании
const MaxBounds = 1 << 13

// DecodedFrame содержит кадр после декодирования
type DecodedFrame struct {
	Cycle        uint64
	Bounds       int
	VisibleCells int
	Timestamp    time.Time
	Blocked      []bool
	Visible      []bool
}

// At возвращает состояние ячейки (x, y)
func (d DecodedFrame) At(x, y int) (blocked, visible bool) {
	if x < 0 || y < 0 || x >= d.Bounds || y >= d.Bounds {
		return false, false
	}
	idx := y*d.Bounds + x
	return d.Blocked[idx], d.Visible[idx]
}

// Image восстанавливает RGBA-текстуру кадра
func (d DecodedFrame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Bounds, d.Bounds))
	for y := 0; y < d.Bounds; y++ {
		for x := 0; x < d.Bounds; x++ {
			idx := y*d.Bounds + x
			img.SetRGBA(x, y, fog.EncodeCell(d.Blocked[idx], d.Visible[idx]))
		}
	}
	return img
}

// Codec сжимает кадры. EncodeAll/DecodeAll zstd безопасны для
// конкурентного использования, поэтому один Codec делится между синками.
type Codec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewCodec создаёт кодек со скоростью сжатия по умолчанию
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(MaxBounds)*MaxBounds))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{compressor: enc, decompressor: dec}, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	_ = c.compressor.Close()
	c.decompressor.Close()
}

// Encode упаковывает кадр. Текстура читается только во время вызова.
func (c *Codec) Encode(f fog.Frame) ([]byte, error) {
	if f.Image == nil {
		return nil, fmt.Errorf("%w: nil image", ErrBadFrame)
	}
	r := f.Image.Bounds()
	if r.Dx() != f.Bounds || r.Dy() != f.Bounds {
		return nil, fmt.Errorf("%w: image %v, bounds %d", ErrBadFrame, r, f.Bounds)
	}

	flags := make([]byte, f.Bounds*f.Bounds)
	for y := 0; y < f.Bounds; y++ {
		for x := 0; x < f.Bounds; x++ {
			blocked, visible := fog.DecodeCell(f.Image.RGBAAt(r.Min.X+x, r.Min.Y+y))
			var b byte
			if blocked {
				b |= flagBlocked
			}
			if visible {
				b |= flagVisible
			}
			flags[y*f.Bounds+x] = b
		}
	}

	var hdr bytes.Buffer
	hdr.Grow(headerSize)
	hdr.WriteString(frameMagic)
	hdr.WriteByte(frameVersion)
	_ = binary.Write(&hdr, binary.BigEndian, f.Cycle)
	_ = binary.Write(&hdr, binary.BigEndian, uint32(f.Bounds))
	_ = binary.Write(&hdr, binary.BigEndian, uint32(f.VisibleCells))
	_ = binary.Write(&hdr, binary.BigEndian, f.Timestamp.UnixNano())

	return c.compressor.EncodeAll(flags, hdr.Bytes()), nil
}

// Decode распаковывает кадр, проверяя заголовок и размер
func (c *Codec) Decode(data []byte) (DecodedFrame, error) {
	var out DecodedFrame
	if len(data) < headerSize || string(data[:4]) != frameMagic {
		return out, ErrBadFrame
	}
	if data[4] != frameVersion {
		return out, fmt.Errorf("%w: version %d", ErrBadFrame, data[4])
	}

	out.Cycle = binary.BigEndian.Uint64(data[5:13])
	bounds := binary.BigEndian.Uint32(data[13:17])
	out.VisibleCells = int(binary.BigEndian.Uint32(data[17:21]))
	out.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(data[21:29]))).UTC()
	if bounds > MaxBounds {
		return out, fmt.Errorf("%w: %d", ErrFrameTooLarge, bounds)
	}
	out.Bounds = int(bounds)

	flags, err := c.decompressor.DecodeAll(data[headerSize:], make([]byte, 0, out.Bounds*out.Bounds))
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if len(flags) != out.Bounds*out.Bounds {
		return out, fmt.Errorf("%w: %d cells, want %d", ErrBadFrame, len(flags), out.Bounds*out.Bounds)
	}

	out.Blocked = make([]bool, len(flags))
	out.Visible = make([]bool, len(flags))
	for i, b := range flags {
		out.Blocked[i] = b&flagBlocked != 0
		out.Visible[i] = b&flagVisible != 0
	}
	return out, nil
}
