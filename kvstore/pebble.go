package kvstore

import (
	"github.com/cockroachdb/pebble"

	"github.com/leancorelabs/chain/errs"
)

// PebbleStore is the durable Store backing, grounded on
// github.com/cockroachdb/pebble, the LSM engine the teacher pulls in as an
// indirect storage dependency. Opened once per node data directory.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (creating if absent) a pebble store at dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errs.Wrapf(errs.Storage, "kvstore: open %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(cf CF, key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(prefixedKey(cf, key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.Storage, err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	return out, true, nil
}

func (s *PebbleStore) Put(cf CF, key, value []byte) error {
	if err := s.db.Set(prefixedKey(cf, key), value, pebble.Sync); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

func (s *PebbleStore) Delete(cf CF, key []byte) error {
	if err := s.db.Delete(prefixedKey(cf, key), pebble.Sync); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// WriteBatch commits ops atomically and durably: pebble.Batch.Commit with
// the Sync write option fsyncs the WAL before returning.
func (s *PebbleStore) WriteBatch(ops []Op) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		key := prefixedKey(op.CF, op.Key)
		if op.Delete {
			if err := b.Delete(key, nil); err != nil {
				return errs.Wrap(errs.Storage, err)
			}
			continue
		}
		if err := b.Set(key, op.Value, nil); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

func (s *PebbleStore) Iterator(cf CF) (Iterator, error) {
	lower, upper := cfBounds(cf)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	return &pebbleIterator{it: it, cf: cf, first: true}, nil
}

func (s *PebbleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

type pebbleIterator struct {
	it    *pebble.Iterator
	cf    CF
	first bool
}

func (p *pebbleIterator) Next() bool {
	if p.first {
		p.first = false
		return p.it.First()
	}
	return p.it.Next()
}

func (p *pebbleIterator) Key() []byte {
	// strip the one-byte CF prefix
	k := p.it.Key()
	if len(k) == 0 {
		return nil
	}
	return k[1:]
}

func (p *pebbleIterator) Value() []byte {
	v, _ := p.it.ValueAndErr()
	return v
}

func (p *pebbleIterator) Close() error {
	return p.it.Close()
}
