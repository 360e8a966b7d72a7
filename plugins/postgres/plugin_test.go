package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/scriptval/runtime"
)

func TestMaskConnectionString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"url with password", "postgres://boinc:s3cret@db:5432/project", "postgres://boinc:xxxxx@db:5432/project"},
		{"url without password", "postgres://boinc@db/project", "postgres://boinc@db/project"},
		{"key value", "host=db user=boinc dbname=project", "host=db user=boinc dbname=project"},
		{"key value with password", "host=db password=s3cret dbname=project", "host=db password=xxxxx dbname=project"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskConnectionString(tt.in))
		})
	}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*any)) = r.values[i]
	}
	return nil
}

func TestScanRow(t *testing.T) {
	row, err := scanRow(
		[]string{"id", "reference", "payload", "raw"},
		[]string{"INT8", "NUMERIC", "JSONB", "BYTEA"},
		fakeRow{values: []any{int64(7), []byte("1.50"), []byte(`{"ok":true}`), []byte{0x01}}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(7), row["id"])
	assert.Equal(t, "1.50", row["reference"])
	assert.Equal(t, `{"ok":true}`, row["payload"])
	assert.Equal(t, []byte{0x01}, row["raw"])

	_, err = scanRow([]string{"id"}, []string{"INT8"}, fakeRow{err: errors.New("boom")})
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, runtime.InitializeConfig(&cfg, map[string]any{
		"connection_string": "postgres://boinc@localhost/project?sslmode=disable",
	}))
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)

	assert.Error(t, runtime.InitializeConfig(&Config{}, map[string]any{}))
}

func TestPostgresPlugin_NotConnected(t *testing.T) {
	c := runtime.NewContainer()
	require.NoError(t, c.RegisterPlugin("postgres", &PostgresPlugin{}))
	assert.Equal(t, []string{"postgres.exec", "postgres.get"}, c.TaskNames())

	_, err := c.GetTask("postgres.get").Execute(runtime.NewInvocation(context.Background(), c), map[string]any{
		"query": "select 1",
	})
	assert.ErrorContains(t, err, "not connected")
}
