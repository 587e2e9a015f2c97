package cmd

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conciergehq/concierge/internal/config"
	"github.com/conciergehq/concierge/internal/conversation"
)

func TestExecuteVersion(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"concierge", "version"}
	assert.NoError(t, Execute())
}

func TestExecuteUnknownCommand(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"concierge", "frobnicate"}
	assert.Error(t, Execute())
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Store.Backend = config.StoreMemory
	cfg.Store.SessionTTL = time.Hour

	store, err := newStore(cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, ok := store.(*conversation.MemoryStore)
	assert.True(t, ok)
}
