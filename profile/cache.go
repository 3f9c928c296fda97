package profile

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/arch/x86/x86asm"
)

var bucketClassifications = []byte("classifications")

// ErrCacheMiss is returned by Cache.Get when the key isn't present.
var ErrCacheMiss = errors.New("profile: cache miss")

// Cache is a bbolt-backed memoization layer in front of a Registry,
// keyed by a blake3 digest of the canonical instruction bytes plus the
// VIP/VSP register pair, with values zstd-compressed before storage.
// Classification is deterministic given its inputs, so this is purely a
// speed optimization — the driver turns it on when given a cache path,
// and its absence never changes a devirtualization result.
type Cache struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenCache opens (creating if necessary) a bbolt database at path to
// back a classification cache.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: open cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClassifications)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: init cache bucket: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: init encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: init decoder: %w", err)
	}
	return &Cache{db: db, enc: enc, dec: dec}, nil
}

func (c *Cache) Close() error {
	c.dec.Close()
	return c.db.Close()
}

// key hashes the canonical trace bytes plus the register assignment in
// effect; two textually identical traces classified under different
// VIP/VSP assignments are different cache entries.
func key(vipReg, vspReg x86asm.Reg, trace []CanonicalInstruction) []byte {
	h := blake3.New()
	fmt.Fprintf(h, "%d|%d|", vipReg, vspReg)
	for _, inst := range trace {
		h.Write(inst.Raw)
	}
	return h.Sum(nil)
}

// Get looks up a previously cached classification.
func (c *Cache) Get(vipReg, vspReg x86asm.Reg, trace []CanonicalInstruction) (VInstruction, error) {
	k := key(vipReg, vspReg, trace)
	var vi VInstruction
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketClassifications).Get(k)
		if raw == nil {
			return ErrCacheMiss
		}
		decompressed, err := c.dec.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
		return gob.NewDecoder(bytes.NewReader(decompressed)).Decode(&vi)
	})
	return vi, err
}

// Put stores a classification result for later reuse.
func (c *Cache) Put(vipReg, vspReg x86asm.Reg, trace []CanonicalInstruction, vi VInstruction) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vi); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	compressed := c.enc.EncodeAll(buf.Bytes(), nil)
	k := key(vipReg, vspReg, trace)
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClassifications).Put(k, compressed)
	})
}

// CachedRegistry wraps a Registry with a Cache, classifying through the
// cache first and falling back to the underlying registry on a miss.
type CachedRegistry struct {
	inner Registry
	cache *Cache
}

func NewCachedRegistry(inner Registry, cache *Cache) *CachedRegistry {
	return &CachedRegistry{inner: inner, cache: cache}
}

func (c *CachedRegistry) Describe(m Mnemonic) string { return c.inner.Describe(m) }

func (c *CachedRegistry) Classify(vipReg, vspReg x86asm.Reg, trace []CanonicalInstruction) (VInstruction, error) {
	if vi, err := c.cache.Get(vipReg, vspReg, trace); err == nil {
		return vi, nil
	}
	vi, err := c.inner.Classify(vipReg, vspReg, trace)
	if err != nil {
		return vi, err
	}
	if err := c.cache.Put(vipReg, vspReg, trace, vi); err != nil {
		return vi, fmt.Errorf("profile: cache put: %w", err)
	}
	return vi, nil
}
