// Package store persists encoded signature files so unchanged base files
// need not be rescanned.
package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var bucketSignatures = []byte("signatures")

// CacheKey identifies a base file as it was when its signature was built.
type CacheKey struct {
	Path            string
	Size            int64
	ModTime         time.Time
	BlockSize       int
	WeakAlgorithm   string
	StrongAlgorithm string
}

func (k CacheKey) bytes() []byte {
	return []byte(fmt.Sprintf("%s|%d|%d|%d|%s|%s",
		k.Path, k.Size, k.ModTime.UnixNano(), k.BlockSize, k.WeakAlgorithm, k.StrongAlgorithm))
}

// SignatureCache is a BoltDB-backed map from CacheKey to encoded signature
// file. Values are an 8-byte big endian unix timestamp followed by the
// signature bytes.
type SignatureCache struct {
	db  *bolt.DB
	now func() time.Time
}

func OpenSignatureCache(path string) (*SignatureCache, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open signature cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketSignatures)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize signature cache: %w", err)
	}
	return &SignatureCache{db: db, now: time.Now}, nil
}

func (c *SignatureCache) Close() error { return c.db.Close() }

// Get returns a copy of the cached signature for key.
func (c *SignatureCache) Get(key CacheKey) ([]byte, bool, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSignatures)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		v := bk.Get(key.bytes())
		if len(v) < 8 {
			return nil
		}
		// bolt values are only valid inside the transaction
		out = append([]byte(nil), v[8:]...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Put stores sig under key, stamped with the current time.
func (c *SignatureCache) Put(key CacheKey, sig []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSignatures)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		buf := make([]byte, 8+len(sig))
		binary.BigEndian.PutUint64(buf, uint64(c.now().Unix()))
		copy(buf[8:], sig)
		return bk.Put(key.bytes(), buf)
	})
}

// GC removes entries older than maxAge and returns how many were removed.
func (c *SignatureCache) GC(maxAge time.Duration) (int, error) {
	cutoff := c.now().Add(-maxAge).Unix()
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSignatures)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		var stale [][]byte
		err := bk.ForEach(func(k, v []byte) error {
			if len(v) < 8 || int64(binary.BigEndian.Uint64(v)) < cutoff {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Len reports the number of cached signatures.
func (c *SignatureCache) Len() (int, error) {
	n := 0
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSignatures)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		n = bk.Stats().KeyN
		return nil
	})
	return n, err
}
