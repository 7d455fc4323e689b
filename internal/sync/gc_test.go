package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectOnce(t *testing.T) {
	stores := newMemStores()
	collector := NewCollector(&fakeRunner{}, stores, testLogger(), 24*time.Hour)

	stale := &ClientGroup{ID: "old", TenantID: "t1", UserID: "u1"}
	fresh := &ClientGroup{ID: "new", TenantID: "t1", UserID: "u1"}
	require.NoError(t, stores.Insert(context.Background(), nil, stale))
	require.NoError(t, stores.Insert(context.Background(), nil, fresh))
	stores.groups["old"].UpdatedAt = time.Now().Add(-48 * time.Hour)
	stores.clients["c-old"] = &Client{ID: "c-old", ClientGroupID: "old"}
	stores.clients["c-new"] = &Client{ID: "c-new", ClientGroupID: "new"}

	collected, err := collector.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, collected)

	assert.NotContains(t, stores.groups, "old")
	assert.Contains(t, stores.groups, "new")
	assert.NotContains(t, stores.clients, "c-old", "clients are collected with their group")
	assert.Contains(t, stores.clients, "c-new")
}

func TestCollectOnceNothingExpired(t *testing.T) {
	stores := newMemStores()
	collector := NewCollector(&fakeRunner{}, stores, testLogger(), 24*time.Hour)
	require.NoError(t, stores.Insert(context.Background(), nil, &ClientGroup{ID: "g1"}))

	collected, err := collector.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, collected)
	assert.Contains(t, stores.groups, "g1")
}
