package btpdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/interledger-deprecated/ilp-plugin-payment-channel-framework/transferlog"
	bolt "go.etcd.io/bbolt"
)

const (
	dbName           = "btp.db"
	dbFilePermission = 0600
)

// migration is a function which takes a prior outdated version of the
// database instance and mutates the key/bucket structure to arrive at a more
// up-to-date version of the database.
type migration func(tx *bolt.Tx) error

type version struct {
	number    uint32
	migration migration
}

var (
	// dbVersions stores all versions of the database. If the current
	// version of the database doesn't match the latest version this list
	// is used for retrieving all migration functions that need to be
	// applied to the current db.
	dbVersions = []version{
		{
			// The base DB version requires no migration.
			number:    0,
			migration: nil,
		},
	}

	// storeBucket holds every key the transfer log writes: the balance
	// bounds, the fulfilled counters and the transfer records.
	storeBucket = []byte("btp-store")

	// metaBucket holds the database version.
	metaBucket = []byte("metadata")

	dbVersionKey = []byte("dbp")
)

var (
	// ErrNoDBExists is returned when the database file has not yet been
	// created.
	ErrNoDBExists = fmt.Errorf("btp db has not yet been created")

	// ErrMetaNotFound is returned when the version record is missing.
	ErrMetaNotFound = fmt.Errorf("unable to locate meta information")
)

// DB is the durable key-value store behind the transfer log. Each plugin
// instance owns one file; all transfer records and balance counters live in
// a single bucket keyed by the strings the log hands us.
type DB struct {
	*bolt.DB
	dbPath string
}

// A compile time check to ensure DB implements the transferlog.Store
// interface.
var _ transferlog.Store = (*DB)(nil)

// Open opens an existing database, creating it first if needed. Any
// necessary schema migrations due to updates will take place as necessary.
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbName)

	if !fileExists(path) {
		if err := createDB(dbPath); err != nil {
			return nil, err
		}
	}

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	db := &DB{
		DB:     bdb,
		dbPath: dbPath,
	}

	// Synchronize the version of database and apply migrations if
	// needed.
	if err := db.syncVersions(dbVersions); err != nil {
		bdb.Close()
		return nil, err
	}

	return db, nil
}

// Wipe deletes every key the transfer log stored by recreating the store
// bucket; the metadata bucket with the database version is kept. The deletion
// is done in a single transaction, therefore this operation is fully atomic.
func (d *DB) Wipe() error {
	return d.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(storeBucket)
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err = tx.CreateBucket(storeBucket)
		return err
	})
}

// Get returns the value stored under key, or nil if the key is absent.
//
// This is part of the transferlog.Store interface.
func (d *DB) Get(key string) ([]byte, error) {
	var value []byte
	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(storeBucket)
		if bucket == nil {
			return ErrNoDBExists
		}

		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		value = make([]byte, len(raw))
		copy(value, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key.
//
// This is part of the transferlog.Store interface.
func (d *DB) Put(key string, value []byte) error {
	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(storeBucket)
		if bucket == nil {
			return ErrNoDBExists
		}
		return bucket.Put([]byte(key), value)
	})
}

// Del removes key from the store.
//
// This is part of the transferlog.Store interface.
func (d *DB) Del(key string) error {
	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(storeBucket)
		if bucket == nil {
			return ErrNoDBExists
		}
		return bucket.Delete([]byte(key))
	})
}

// createDB creates and initializes a fresh version of the database. In the
// case that the target path has not yet been created or doesn't yet exist,
// then the path is created. Additionally, all required top-level buckets
// used within the database are created.
func createDB(dbPath string) error {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return err
		}
	}

	path := filepath.Join(dbPath, dbName)
	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return err
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucket(storeBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(metaBucket); err != nil {
			return err
		}

		return putDBVersion(tx, getLatestDBVersion(dbVersions))
	})
	if err != nil {
		return fmt.Errorf("unable to create new btp db")
	}

	return bdb.Close()
}

// fileExists reports whether the named file or directory exists.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
