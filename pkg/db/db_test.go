package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPragmas(t *testing.T) {
	got := withPragmas("/tmp/q.db")
	assert.True(t, strings.HasPrefix(got, "/tmp/q.db?_pragma=busy_timeout(5000)"), got)
	assert.Contains(t, got, "_pragma=foreign_keys(1)")

	got = withPragmas("file:q.db?mode=rwc")
	assert.True(t, strings.HasPrefix(got, "file:q.db?mode=rwc&_pragma="), got)
}

func TestOpenSQLite(t *testing.T) {
	d, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "nested", "q.db"))
	require.NoError(t, err)
	defer d.Close()

	assert.False(t, IsPostgres(d))
	assert.Equal(t, sqlx.QUESTION, sqlx.BindType(d.DriverName()))

	var fk int
	require.NoError(t, d.Get(&fk, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, fk)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.Error(t, err)

	_, err = Open(DriverSQLite, " ")
	assert.Error(t, err)
}
