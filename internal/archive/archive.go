// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package archive keeps the distributable entries of an infoservice across
// restarts.
//
// The stores are dumped into a leveldb database on shutdown and restored on
// startup.  Restored entries are parsed anew, so their lifetimes start at the
// time of the restore and documents that no longer parse are dropped.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anonnet/infoserviced/internal/entrystore"
	"github.com/anonnet/infoserviced/internal/topology"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/multierr"
)

// dbName is the name of the archive database within the data directory.
const dbName = "archive"

// Archive persists entry documents in a leveldb database.
type Archive struct {
	// db is set when the instance is created and is not changed afterward.
	db *leveldb.DB
}

// convertLdbErr converts the passed leveldb error into a context error with an
// equivalent error kind and the passed description.  It also sets the passed
// error as the underlying error and adds its error string to the description.
func convertLdbErr(ldbErr error, desc string) ContextError {
	var kind = ErrArchive
	switch {
	case ldberrors.IsCorrupted(ldbErr):
		kind = ErrArchiveCorruption
	case errors.Is(ldbErr, leveldb.ErrClosed):
		kind = ErrArchiveNotOpen
	}

	desc = fmt.Sprintf("%s: %v", desc, ldbErr)
	err := contextError(kind, desc)
	err.RawErr = ldbErr
	return err
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// Open opens (or creates when needed) the archive in the data directory.
func Open(dataDir string) (*Archive, error) {
	dbPath := filepath.Join(dataDir, dbName)
	dbExists := fileExists(dbPath)
	if !dbExists {
		// The error can be ignored here since the call to leveldb.OpenFile will
		// fail if the directory couldn't be created.
		_ = os.MkdirAll(dataDir, 0700)
	}

	log.Infof("Loading archive from '%s'", dbPath)
	opts := opt.Options{
		ErrorIfExist: !dbExists,
		Strict:       opt.DefaultStrict,
		Filter:       filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open archive")
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return convertLdbErr(err, "failed to close archive")
	}
	return nil
}

// kindPrefix returns the key prefix of the entries of the kind.
func kindPrefix(kind entrystore.Kind) []byte {
	return []byte(string(kind) + "/")
}

// dumpKind replaces the archived entries of the store with its current
// distributable entries and returns the number written.
func (a *Archive) dumpKind(store *entrystore.Store) (int, error) {
	prefix := kindPrefix(store.Kind())
	ldbTx, err := a.db.OpenTransaction()
	if err != nil {
		return 0, convertLdbErr(err, "failed to open leveldb transaction")
	}

	var stale [][]byte
	iter := ldbTx.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		stale = append(stale, append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		ldbTx.Discard()
		return 0, convertLdbErr(err, "failed to iterate archived entries")
	}
	for _, key := range stale {
		if err := ldbTx.Delete(key, nil); err != nil {
			ldbTx.Discard()
			return 0, convertLdbErr(err, "failed to delete archived entry")
		}
	}

	var n int
	for _, e := range store.Snapshot() {
		d, ok := e.(entrystore.Distributable)
		if !ok {
			continue
		}
		key := append(append([]byte(nil), prefix...), e.ID()...)
		if err := ldbTx.Put(key, d.PostData(), nil); err != nil {
			ldbTx.Discard()
			return 0, convertLdbErr(err, "failed to archive entry")
		}
		n++
	}

	if err := ldbTx.Commit(); err != nil {
		ldbTx.Discard()
		return 0, convertLdbErr(err, "failed to commit leveldb transaction")
	}
	return n, nil
}

// Dump archives the distributable entries of the stores of the kinds.  Each
// kind is replaced atomically.  A failure of one kind does not prevent the
// others from being archived; all failures are returned.
func (a *Archive) Dump(registry *entrystore.Registry, kinds []entrystore.Kind) error {
	var errs error
	for _, kind := range kinds {
		store, ok := registry.Lookup(kind)
		if !ok {
			continue
		}
		n, err := a.dumpKind(store)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		log.Debugf("Archived %d %s entries", n, kind)
	}
	return errs
}

// Restore parses the archived entries of every kind the factory knows and
// merges them into the stores of the registry.  Entries that no longer parse
// or already expired are skipped.  The number of restored entries is
// returned.
func (a *Archive) Restore(registry *entrystore.Registry, factory *topology.Factory) (int, error) {
	var restored int
	for _, kind := range factory.Kinds() {
		store := registry.Store(kind)
		iter := a.db.NewIterator(util.BytesPrefix(kindPrefix(kind)), nil)
		for iter.Next() {
			e, err := factory.ParseKind(kind, iter.Value())
			if err != nil {
				log.Warnf("Skipping archived %s %q: %v", kind,
					iter.Key()[len(kindPrefix(kind)):], err)
				continue
			}
			changed, err := store.Update(e, false)
			if err != nil {
				log.Debugf("Skipping archived %s %s: %v", kind, e.ID(), err)
				continue
			}
			if changed {
				restored++
			}
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return restored, convertLdbErr(err, "failed to iterate archive")
		}
	}
	log.Infof("Restored %d entries from archive", restored)
	return restored, nil
}
