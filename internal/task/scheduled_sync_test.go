package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woo_sync_v1_202610/pkg/woo/wootest"
)

func TestScheduledSync_SyncAll(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a := wootest.NewServer(t)
	a.AddProducts(2, "A")
	b := wootest.NewServer(t)
	b.AddProducts(4, "B")
	busy := wootest.NewServer(t)
	paused := wootest.NewServer(t)

	f.site(t, a, "a", true)
	f.site(t, b, "b", true)
	busySite := f.site(t, busy, "busy", true)
	f.site(t, paused, "paused", false)

	unlock, err := f.locker.TryLock(ctx, busySite.ID)
	require.NoError(t, err)
	defer unlock()

	task := NewScheduledSyncTask(f.store.Sites, f.runs, "", 2, nil)
	res := task.SyncAll(ctx)

	assert.Equal(t, SweepResult{Sites: 3, Succeeded: 2, Busy: 1}, res)
	assert.Empty(t, busy.Requests())
	assert.Empty(t, paused.Requests())
	assert.NotEmpty(t, a.Requests())
	assert.Len(t, f.publisher.Events(), 2)
}

func TestScheduledSync_CountsFailures(t *testing.T) {
	f := newFixture(t, 0)
	srv := wootest.NewServer(t)
	srv.ConsumerKey = "ck_live"
	site := f.site(t, srv, "revoked", true)
	site.ConsumerKey = "ck_revoked"
	require.NoError(t, f.store.Sites.Update(context.Background(), site))

	res := NewScheduledSyncTask(f.store.Sites, f.runs, "", 0, nil).SyncAll(context.Background())
	assert.Equal(t, SweepResult{Sites: 1, Failed: 1}, res)
}

func TestScheduledSync_StartRejectsBadCron(t *testing.T) {
	f := newFixture(t, 0)
	task := NewScheduledSyncTask(f.store.Sites, f.runs, "every tuesday", 1, nil)
	assert.Error(t, task.Start())

	task = NewScheduledSyncTask(f.store.Sites, f.runs, "0 0 3 * * *", 1, nil)
	require.NoError(t, task.Start())
	task.Stop()
}
