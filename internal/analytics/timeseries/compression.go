package timeseries

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// codec encodes archive blocks: varint delta-of-delta timestamps followed by
// XOR-encoded float bits, compressed with zstd.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec(level int) (*codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder}, nil
}

func (c *codec) encode(points []Point) []byte {
	buf := make([]byte, 0, len(points)*10+binary.MaxVarintLen64)
	buf = binary.AppendUvarint(buf, uint64(len(points)))

	var prev, prevDelta int64
	for i, p := range points {
		ts := p.Time.UnixNano()
		if i == 0 {
			buf = binary.AppendVarint(buf, ts)
		} else {
			delta := ts - prev
			buf = binary.AppendVarint(buf, delta-prevDelta)
			prevDelta = delta
		}
		prev = ts
	}

	var prevBits uint64
	for _, p := range points {
		bits := math.Float64bits(p.Value)
		buf = binary.LittleEndian.AppendUint64(buf, bits^prevBits)
		prevBits = bits
	}
	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)/2))
}

var errCorruptBlock = errors.New("corrupt archive block")

func (c *codec) decode(data []byte) ([]int64, []float64, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decompression failed: %w", err)
	}

	count, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, nil, errCorruptBlock
	}
	raw = raw[n:]
	// every point takes at least one timestamp byte and eight value bytes
	if count > uint64(len(raw))/9 {
		return nil, nil, errCorruptBlock
	}

	stamps := make([]int64, count)
	var prevDelta int64
	for i := range stamps {
		v, n := binary.Varint(raw)
		if n <= 0 {
			return nil, nil, errCorruptBlock
		}
		raw = raw[n:]
		if i == 0 {
			stamps[0] = v
			continue
		}
		delta := v + prevDelta
		stamps[i] = stamps[i-1] + delta
		prevDelta = delta
	}

	if uint64(len(raw)) < count*8 {
		return nil, nil, errCorruptBlock
	}
	values := make([]float64, count)
	var prevBits uint64
	for i := range values {
		bits := binary.LittleEndian.Uint64(raw[i*8:]) ^ prevBits
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}
	return stamps, values, nil
}

func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
