package mysql

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arin/xx-chat/internal/store"
	"github.com/arin/xx-chat/internal/store/storetest"
)

// Set XX_CHAT_TEST_MYSQL_DSN to a disposable database to run these.
func TestDriver(t *testing.T) {
	dsn := os.Getenv("XX_CHAT_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("XX_CHAT_TEST_MYSQL_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Driver {
		d, err := NewDB(context.Background(), dsn)
		require.NoError(t, err)
		_, err = d.db.Exec("DELETE FROM `conversation`")
		require.NoError(t, err)
		return d
	})
}

func TestNewDB_BadDSN(t *testing.T) {
	_, err := NewDB(context.Background(), "not a dsn")
	require.Error(t, err)
}
