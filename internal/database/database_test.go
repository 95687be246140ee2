package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrateCreatesTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	for _, table := range []string{"activities", "submissions", "submission_grade_histories"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
	require.True(t, db.Migrator().HasIndex("submissions", "idx_submission_activity_user"))
}

func TestConnectRedis(t *testing.T) {
	client, err := ConnectRedis(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, client)

	_, err = ConnectRedis(context.Background(), "not a url")
	require.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err = ConnectRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NotNil(t, client)
	require.NoError(t, client.Close())
}

func TestConnectNATSWithoutURLIsDisabled(t *testing.T) {
	conn, err := ConnectNATS("", "engelbrain-test")
	require.NoError(t, err)
	require.Nil(t, conn)
}

func TestConnectPostgresRequiresDSN(t *testing.T) {
	_, err := ConnectPostgres("")
	require.Error(t, err)
}
