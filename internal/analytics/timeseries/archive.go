package timeseries

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ArchiveConfig configures the Badger archive.
type ArchiveConfig struct {
	Path             string
	Retention        time.Duration
	CompressionLevel int
	// InMemory runs Badger without touching disk (tests).
	InMemory bool
}

// DefaultArchiveConfig returns 30 days of retention under ./data/archive.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Path:             "./data/archive",
		Retention:        30 * 24 * time.Hour,
		CompressionLevel: 3,
	}
}

// Archive is the cold tier. Each Append writes one block:
//
//	key:   "s/" + sensorID + "/" + first timestamp (8 bytes BE) + seq (8 bytes BE)
//	value: codec-encoded points
//
// Keys sort by sensor, then time, so range scans are prefix iterations.
type Archive struct {
	cfg   ArchiveConfig
	db    *badger.DB
	codec *codec
	seq   atomic.Uint64
}

// OpenArchive opens (or creates) the archive.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	c, err := newCodec(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}
	a := &Archive{cfg: cfg, db: db, codec: c}
	a.seq.Store(uint64(time.Now().UnixNano()))
	return a, nil
}

func sensorPrefix(sensorID string) []byte {
	return []byte("s/" + sensorID + "/")
}

func blockKey(sensorID string, first int64, seq uint64) []byte {
	prefix := sensorPrefix(sensorID)
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(first))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

func blockStart(key []byte, prefixLen int) int64 {
	return int64(binary.BigEndian.Uint64(key[prefixLen:]))
}

// Append writes points as one block.
func (a *Archive) Append(ctx context.Context, sensorID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	key := blockKey(sensorID, points[0].Time.UnixNano(), a.seq.Add(1))
	val := a.codec.encode(points)

	return a.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, val)
		if a.cfg.Retention > 0 {
			e = e.WithTTL(a.cfg.Retention)
		}
		return txn.SetEntry(e)
	})
}

// Range returns archived points in [start, end].
func (a *Archive) Range(ctx context.Context, sensorID string, start, end time.Time) ([]Point, error) {
	prefix := sensorPrefix(sensorID)
	startNano, endNano := start.UnixNano(), end.UnixNano()

	var out []Point
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if blockStart(item.Key(), len(prefix)) > endNano {
				break
			}
			points, err := a.readItem(item)
			if err != nil {
				return err
			}
			for _, p := range points {
				if ts := p.Time.UnixNano(); ts >= startNano && ts <= endNano {
					out = append(out, p)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive range %s: %w", sensorID, err)
	}
	return out, nil
}

// History returns up to n of the newest archived points, oldest first.
func (a *Archive) History(ctx context.Context, sensorID string, n int) ([]Point, error) {
	prefix := sensorPrefix(sensorID)
	var blocks [][]Point
	total := 0

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the last possible key of the prefix.
		seek := append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, 16)...)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			points, err := a.readItem(it.Item())
			if err != nil {
				return err
			}
			blocks = append(blocks, points)
			total += len(points)
			if n > 0 && total >= n {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive history %s: %w", sensorID, err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w for sensor %s", ErrNoData, sensorID)
	}

	out := make([]Point, 0, total)
	for i := len(blocks) - 1; i >= 0; i-- {
		out = append(out, blocks[i]...)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Window is History for the archive.
func (a *Archive) Window(ctx context.Context, sensorID string, n int) ([]Point, error) {
	return a.History(ctx, sensorID, n)
}

// Delete drops every block of sensorID.
func (a *Archive) Delete(ctx context.Context, sensorID string) error {
	if err := a.db.DropPrefix(sensorPrefix(sensorID)); err != nil {
		return fmt.Errorf("archive delete %s: %w", sensorID, err)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	a.codec.close()
	return a.db.Close()
}

func (a *Archive) readItem(item *badger.Item) ([]Point, error) {
	var points []Point
	err := item.Value(func(val []byte) error {
		stamps, values, err := a.codec.decode(val)
		if err != nil {
			return err
		}
		points = make([]Point, len(stamps))
		for i := range stamps {
			points[i] = Point{Time: time.Unix(0, stamps[i]).UTC(), Value: values[i]}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("block %x: %w", item.Key(), err)
	}
	return points, nil
}
