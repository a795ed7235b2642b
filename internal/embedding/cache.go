package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-crypt/x/blake2b"
	"github.com/rs/zerolog/log"
)

const cacheKeyPrefix = "emb:"

// Cache is a badger-backed read-through cache in front of an Embedder.
// Any cache error falls back to the wrapped embedder.
type Cache struct {
	db   *badger.DB
	next Embedder
}

// OpenCache opens (or creates) a cache at dir. An empty dir keeps the cache
// in memory.
func OpenCache(dir string, next Embedder) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{db: db, next: next}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) Dim() int { return c.next.Dim() }

func (c *Cache) Embed(text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return c.next.Embed(text)
	}
	key := c.key(text)
	if v, ok := c.get(key); ok {
		return v
	}
	v := c.next.Embed(text)
	c.put(map[string][]float32{string(key): v})
	return v
}

func (c *Cache) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = c.next.Embed(t)
			continue
		}
		if v, ok := c.get(c.key(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out
	}

	fresh := c.next.EmbedBatch(missing)
	writes := make(map[string][]float32, len(fresh))
	for j, v := range fresh {
		out[slots[j]] = v
		writes[string(c.key(missing[j]))] = v
	}
	c.put(writes)
	return out
}

// key is blake2b-256 over the text, prefixed with the dimension so caches
// shared between dimensions never collide.
func (c *Cache) key(text string) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(text))
	buf := make([]byte, 0, len(cacheKeyPrefix)+4+h.Size())
	buf = append(buf, cacheKeyPrefix...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(c.next.Dim()))
	return h.Sum(buf)
}

func (c *Cache) get(key []byte) ([]float32, bool) {
	var v []float32
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v = decodeVector(val)
			return nil
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			log.Debug().Err(err).Msg("embedding cache read failed")
		}
		return nil, false
	}
	if len(v) != c.next.Dim() {
		return nil, false
	}
	return v, true
}

func (c *Cache) put(entries map[string][]float32) {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range entries {
		if err := wb.Set([]byte(k), encodeVector(v)); err != nil {
			log.Debug().Err(err).Msg("embedding cache write failed")
			return
		}
	}
	if err := wb.Flush(); err != nil {
		log.Debug().Err(err).Msg("embedding cache flush failed")
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

var _ badger.Logger = badgerLogger{}

func (badgerLogger) Errorf(msg string, items ...any) {
	log.Error().Str("component", "badger").Msgf(msg, items...)
}

func (badgerLogger) Warningf(msg string, items ...any) {
	log.Warn().Str("component", "badger").Msgf(msg, items...)
}

func (badgerLogger) Infof(msg string, items ...any) {
	log.Debug().Str("component", "badger").Msgf(msg, items...)
}

func (badgerLogger) Debugf(msg string, items ...any) {
	log.Trace().Str("component", "badger").Msgf(msg, items...)
}
