package memory

import (
	"testing"

	"github.com/arin/xx-chat/internal/store"
	"github.com/arin/xx-chat/internal/store/storetest"
)

func TestDriver(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Driver { return NewDB() })
}
