package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arin/xx-chat/internal/store"
	"github.com/arin/xx-chat/internal/store/storetest"
)

// Set XX_CHAT_TEST_POSTGRES_DSN to a disposable database to run these.
func TestDriver(t *testing.T) {
	dsn := os.Getenv("XX_CHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("XX_CHAT_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Driver {
		d, err := NewDB(context.Background(), dsn)
		require.NoError(t, err)
		_, err = d.db.Exec(`TRUNCATE conversation, conversation_message`)
		require.NoError(t, err)
		return d
	})
}

func TestNewDB_RequiresDSN(t *testing.T) {
	_, err := NewDB(context.Background(), "")
	require.Error(t, err)
}
