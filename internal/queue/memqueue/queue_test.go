package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prevant/internal/domain"
)

func TestQueue_ClaimReturnsEnqueuedTask(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), domain.Task{ID: "t1", AppName: "demo", Kind: domain.TaskCreate}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, domain.TaskRunning, task.Status)
}

func TestQueue_SingleWorkerPerApp(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), domain.Task{ID: "t1", AppName: "demo", Kind: domain.TaskCreate}))
	require.NoError(t, q.Enqueue(context.Background(), domain.Task{ID: "t2", AppName: "demo", Kind: domain.TaskDelete}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", first.ID)

	blocked, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = q.Claim(blocked)
	assert.Error(t, err, "second task for the same app must not be claimable while the first is running")

	require.NoError(t, q.Complete(context.Background(), first.ID, []byte(`[]`), ""))

	ctx2, cancel3 := context.WithTimeout(context.Background(), time.Second)
	defer cancel3()
	second, err := q.Claim(ctx2)
	require.NoError(t, err)
	assert.Equal(t, "t2", second.ID)
}

func TestQueue_DifferentAppsClaimConcurrently(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), domain.Task{ID: "a1", AppName: "app-a", Kind: domain.TaskCreate}))
	require.NoError(t, q.Enqueue(context.Background(), domain.Task{ID: "b1", AppName: "app-b", Kind: domain.TaskCreate}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := q.Claim(ctx)
	require.NoError(t, err)

	second, err := q.Claim(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.AppName, second.AppName)
}

func TestQueue_ShutdownUnblocksClaim(t *testing.T) {
	q := New()
	done := make(chan error, 1)
	go func() {
		_, err := q.Claim(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Claim did not unblock after Shutdown")
	}
}
