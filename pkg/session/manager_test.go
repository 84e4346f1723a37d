package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/aretw0/wabaflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SerializesSameConversation(t *testing.T) {
	store := memory.NewStore()
	mgr := session.NewManager(store)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithConversation(ctx, 1, "+55", func(ctx context.Context, conv *domain.Conversation, _ bool) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				// Read-modify-write that would lose updates without the lock.
				time.Sleep(time.Millisecond)
				conv.CurrentNode += "x"
				err := store.Save(ctx, conv)

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	list, err := store.ListConversations(ctx, domain.ConversationFilter{TenantID: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].CurrentNode, 20, "no update may be lost")
}

func TestManager_DifferentConversationsRunConcurrently(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- mgr.WithConversation(ctx, 1, "+a", func(context.Context, *domain.Conversation, bool) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := mgr.WithConversation(ctx, 1, "+b", func(context.Context, *domain.Conversation, bool) error {
		return nil
	})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestManager_ReportsCreation(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()

	var first, second bool
	require.NoError(t, mgr.WithConversation(ctx, 1, "+1", func(_ context.Context, _ *domain.Conversation, created bool) error {
		first = created
		return nil
	}))
	require.NoError(t, mgr.WithConversation(ctx, 1, "+1", func(_ context.Context, _ *domain.Conversation, created bool) error {
		second = created
		return nil
	}))
	assert.True(t, first)
	assert.False(t, second)
}

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	ttl      time.Duration
	unlocked int
	fail     error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	l.keys = append(l.keys, key)
	l.ttl = ttl
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocked++
		return nil
	}, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(5*time.Second))

	err := mgr.WithConversation(context.Background(), 7, "+99", func(context.Context, *domain.Conversation, bool) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"7:+99"}, locker.keys)
	assert.Equal(t, 5*time.Second, locker.ttl)
	assert.Equal(t, 1, locker.unlocked)
}

func TestManager_DistributedLockFailure(t *testing.T) {
	boom := errors.New("redis down")
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(&recordingLocker{fail: boom}))

	called := false
	err := mgr.WithConversation(context.Background(), 1, "+1", func(context.Context, *domain.Conversation, bool) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}
