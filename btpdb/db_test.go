package btpdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir())
	require.NoError(t, err, "unable to open db")
	t.Cleanup(func() { db.Close() })

	return db
}

// TestGetPutDel exercises the store surface end to end.
func TestGetPutDel(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	// Absent keys return nil without an error.
	value, err := db.Get("tl:maximum")
	require.NoError(t, err)
	require.Nil(t, value, "absent key returned a value")

	require.NoError(t, db.Put("tl:maximum", []byte("10")))

	value, err = db.Get("tl:maximum")
	require.NoError(t, err)
	require.Equal(t, []byte("10"), value)

	require.NoError(t, db.Del("tl:maximum"))

	value, err = db.Get("tl:maximum")
	require.NoError(t, err)
	require.Nil(t, value, "key not deleted")
}

// TestReopen asserts values survive closing and reopening the database.
func TestReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put("tl:balance:if", []byte("42")))
	require.NoError(t, db.Close())

	db2, err := Open(dir)
	require.NoError(t, err, "unable to reopen db")
	defer db2.Close()

	value, err := db2.Get("tl:balance:if")
	require.NoError(t, err)
	require.Equal(t, []byte("42"), value, "value lost across reopen")
}

// TestWipe asserts Wipe removes all stored keys but leaves the database
// usable.
func TestWipe(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	require.NoError(t, db.Put("tl:transfer:x", []byte("{}")))
	require.NoError(t, db.Wipe())

	value, err := db.Get("tl:transfer:x")
	require.NoError(t, err)
	require.Nil(t, value, "wipe left data behind")

	require.NoError(t, db.Put("tl:transfer:y", []byte("{}")),
		"db unusable after wipe")
}
