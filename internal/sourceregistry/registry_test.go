package sourceregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

func TestGetPool_UnknownCodeReturnsErrSourceNotFound(t *testing.T) {
	r := New(nil, nil)

	pool, desc, err := r.GetPool("does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Nil(t, pool)
	assert.Equal(t, domain.SourceDatabase{}, desc)
}

func TestOpenPool_UnsupportedKind(t *testing.T) {
	_, err := openPool(domain.SourceDatabase{Code: "bad", Kind: domain.SourceKind("ORACLE")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestOpenPool_PostgresAndMySQLDriversRegistered(t *testing.T) {
	pgPool, err := openPool(domain.SourceDatabase{
		Code: "pg1", Kind: domain.SourceKindPostgreSQL,
		Host: "localhost", Port: 5432, Database: "d", Username: "u", Password: "p",
	})
	require.NoError(t, err)
	defer pgPool.Close()

	myPool, err := openPool(domain.SourceDatabase{
		Code: "my1", Kind: domain.SourceKindMySQL,
		Host: "localhost", Port: 3306, Database: "d", Username: "u", Password: "p",
	})
	require.NoError(t, err)
	defer myPool.Close()
}

func TestDescriptorsEqual(t *testing.T) {
	a := domain.SourceDatabase{
		Kind: domain.SourceKindPostgreSQL, Host: "h", Port: 5432,
		Database: "d", Username: "u", Password: "p",
	}
	b := a
	assert.True(t, descriptorsEqual(a, b))

	b.Password = "changed"
	assert.False(t, descriptorsEqual(a, b))

	b = a
	b.Port = 5433
	assert.False(t, descriptorsEqual(a, b))
}
