package keystore

import (
	"context"
	"encoding/binary"
	"slices"
	"strings"

	"github.com/hupe1980/inkdex/internal/hash"
	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

// StringStore is a record store keyed by arbitrary strings. Keys are hashed
// to int32; every record carries the full key so hash collisions are
// resolved by scanning the hash's record history from newest to oldest.
type StringStore struct {
	db            *Store[int32]
	caseSensitive bool
}

// OpenStringStore opens or creates the string store dir/name.
func OpenStringStore(dir, name string, caseSensitive bool, optFns ...func(o *Options)) (*StringStore, error) {
	fns := append(slices.Clone(optFns), func(o *Options) {
		o.AllowDuplicates = true
		o.indexTombstones = true
	})
	db, err := Open[int32](dir, name, keys.Int32{}, fns...)
	if err != nil {
		return nil, err
	}
	return &StringStore{db: db, caseSensitive: caseSensitive}, nil
}

func (s *StringStore) norm(key string) string {
	if s.caseSensitive {
		return key
	}
	return strings.ToLower(key)
}

func pack(key string, val []byte) []byte {
	out := make([]byte, 4, 4+len(key)+len(val))
	binary.LittleEndian.PutUint32(out, uint32(len(key))) //nolint:gosec // G115: keys are short
	out = append(out, key...)
	return append(out, val...)
}

func unpack(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, storeerr.Corrupt.New("string record of %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n > len(b)-4 {
		return "", nil, storeerr.Corrupt.New("string record key length %d exceeds record", n)
	}
	return string(b[4 : 4+n]), b[4+n:], nil
}

// Set stores val under key and returns its record number.
func (s *StringStore) Set(key string, val []byte) (int, error) {
	k := s.norm(key)
	return s.db.SetBytes(hash.KeyString32(k), pack(k, val))
}

// SetObject encodes v with the store codec and stores it under key.
func (s *StringStore) SetObject(key string, v any) (int, error) {
	data, err := s.db.enc.Marshal(v)
	if err != nil {
		return -1, storeerr.Precondition.Wrap(err)
	}
	return s.Set(key, data)
}

// lookup finds the newest record of key. It reports the record number and
// whether that record holds a value rather than a tombstone.
func (s *StringStore) lookup(key string) (Record[int32], []byte, bool, error) {
	h := hash.KeyString32(key)
	cur, ok, err := s.db.Current(h)
	if err != nil || !ok {
		return Record[int32]{}, nil, false, err
	}

	check := func(n int) (Record[int32], []byte, bool, error) {
		r, err := s.db.ReadRecord(n)
		if err != nil {
			return r, nil, false, err
		}
		k, val, err := unpack(r.Data)
		if err != nil {
			return r, nil, false, err
		}
		return r, val, k == key, nil
	}

	r, val, match, err := check(cur)
	if err != nil || match {
		return r, val, match, err
	}

	hist, err := s.db.History(h)
	if err != nil {
		return Record[int32]{}, nil, false, err
	}
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i] == cur {
			continue
		}
		r, val, match, err := check(hist[i])
		if err != nil || match {
			return r, val, match, err
		}
	}
	return Record[int32]{}, nil, false, nil
}

// Get returns the value of key.
func (s *StringStore) Get(key string) ([]byte, bool, error) {
	r, val, ok, err := s.lookup(s.norm(key))
	if err != nil || !ok || r.Deleted {
		return nil, false, err
	}
	return val, true, nil
}

// GetObject decodes the value of key into v.
func (s *StringStore) GetObject(key string, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.db.enc.Unmarshal(data, v); err != nil {
		return false, storeerr.Corrupt.Wrap(err)
	}
	return true, nil
}

// Lookup returns the record number holding the value of key.
func (s *StringStore) Lookup(key string) (int, bool, error) {
	r, _, ok, err := s.lookup(s.norm(key))
	if err != nil || !ok || r.Deleted {
		return -1, false, err
	}
	return r.Num, true, nil
}

// History returns every record written for key, oldest first, tombstones
// included.
func (s *StringStore) History(key string) ([]int, error) {
	k := s.norm(key)
	hist, err := s.db.History(hash.KeyString32(k))
	if err != nil {
		return nil, err
	}
	out := hist[:0]
	for _, n := range hist {
		rk, _, _, err := s.ReadRecord(n)
		if err != nil {
			return nil, err
		}
		if rk == k {
			out = append(out, n)
		}
	}
	return out, nil
}

// Delete writes a tombstone for key.
func (s *StringStore) Delete(key string) (bool, error) {
	k := s.norm(key)
	r, _, ok, err := s.lookup(k)
	if err != nil || !ok || r.Deleted {
		return false, err
	}
	_, err = s.db.tombstone(hash.KeyString32(k), pack(k, nil))
	return err == nil, err
}

// ReadRecord returns the key and value of record n.
func (s *StringStore) ReadRecord(n int) (key string, val []byte, deleted bool, err error) {
	r, err := s.db.ReadRecord(n)
	if err != nil {
		return "", nil, false, err
	}
	key, val, err = unpack(r.Data)
	return key, val, r.Deleted, err
}

// ReadObject decodes record n into v and returns its key. Tombstones decode
// nothing and report deleted.
func (s *StringStore) ReadObject(n int, v any) (key string, deleted bool, err error) {
	key, val, deleted, err := s.ReadRecord(n)
	if err != nil || deleted {
		return key, deleted, err
	}
	if err := s.db.enc.Unmarshal(val, v); err != nil {
		return key, false, storeerr.Corrupt.Wrap(err)
	}
	return key, false, nil
}

// Count returns the live key count.
func (s *StringStore) Count() int { return s.db.Count() }

// RecordCount returns the number of archive records.
func (s *StringStore) RecordCount() int { return s.db.RecordCount() }

// SaveIndex persists the index.
func (s *StringStore) SaveIndex() error { return s.db.SaveIndex() }

// FreeMemory releases cached index data.
func (s *StringStore) FreeMemory() { s.db.FreeMemory() }

// Optimize compacts the index postings.
func (s *StringStore) Optimize(ctx context.Context) error { return s.db.Optimize(ctx) }

// Close saves and closes the store.
func (s *StringStore) Close() error { return s.db.Close() }
