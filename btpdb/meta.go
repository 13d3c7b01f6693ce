package btpdb

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"
)

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// fetchDBVersion returns the stored database version.
func fetchDBVersion(tx *bolt.Tx) (uint32, error) {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		return 0, ErrMetaNotFound
	}

	raw := meta.Get(dbVersionKey)
	if raw == nil {
		return 0, ErrMetaNotFound
	}

	return byteOrder.Uint32(raw), nil
}

// putDBVersion stores the database version.
func putDBVersion(tx *bolt.Tx, number uint32) error {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		return ErrMetaNotFound
	}

	var scratch [4]byte
	byteOrder.PutUint32(scratch[:], number)
	return meta.Put(dbVersionKey, scratch[:])
}

// getLatestDBVersion returns the newest known database version.
func getLatestDBVersion(versions []version) uint32 {
	return versions[len(versions)-1].number
}

// getMigrationsToApply retrieves the migration functions that should be
// applied to the database of the given version.
func getMigrationsToApply(versions []version, v uint32) []migration {
	migrations := make([]migration, 0, len(versions))
	for _, ver := range versions {
		if ver.number > v && ver.migration != nil {
			migrations = append(migrations, ver.migration)
		}
	}
	return migrations
}

// syncVersions applies all migrations newer than the version currently
// stored in the database, then records the latest version.
func (d *DB) syncVersions(versions []version) error {
	return d.Update(func(tx *bolt.Tx) error {
		current, err := fetchDBVersion(tx)
		if err != nil {
			return err
		}

		latest := getLatestDBVersion(versions)
		if current == latest {
			return nil
		}

		for _, apply := range getMigrationsToApply(versions, current) {
			if err := apply(tx); err != nil {
				return err
			}
		}

		return putDBVersion(tx, latest)
	})
}
