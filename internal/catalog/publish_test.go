package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	cat, err := LoadFile(fixture)
	require.NoError(t, err)

	plans, err := publishPlans(cat)
	require.NoError(t, err)
	require.Len(t, plans, 9)
	assert.Equal(t, "catalog.product_types", plans[0].cfg.Table)
	assert.Equal(t, "catalog.labor_group_eligibility", plans[8].cfg.Table)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	var want int64
	for _, p := range plans {
		n := int64(len(p.rows))
		want += n
		mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + underscored(p.cfg.Table)}, p.cfg.Columns).
			WillReturnResult(n)
		mock.ExpectExec(`INSERT INTO .* ON CONFLICT \("id"\) DO UPDATE SET`).
			WillReturnResult(pgxmock.NewResult("INSERT", n))
	}
	mock.ExpectCommit()

	total, err := Publish(context.Background(), mock, cat)
	require.NoError(t, err)
	assert.Equal(t, int64(48), want)
	assert.Equal(t, want, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_RejectsInvalidCatalog(t *testing.T) {
	cat, err := LoadFile(fixture)
	require.NoError(t, err)
	cat.Eligibility[0].IsDefault = true // second default in post_setting

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Publish(context.Background(), mock, cat)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Error(), "more than one default")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_RollsBackOnFailure(t *testing.T) {
	cat, err := LoadFile(fixture)
	require.NoError(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err = Publish(context.Background(), mock, cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: publish catalog.product_types")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func underscored(table string) string {
	out := []byte(table)
	for i, c := range out {
		if c == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}
