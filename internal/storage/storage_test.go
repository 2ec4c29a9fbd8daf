package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/storage"
	"github.com/parley-ai/parley/internal/testutil"
)

// testDB holds a shared test database for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// stores runs a subtest against both implementations so their semantics
// cannot drift apart.
func stores(t *testing.T, fn func(t *testing.T, s storage.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, storage.NewMemoryStore()) })
	t.Run("postgres", func(t *testing.T) { fn(t, testDB) })
}

// user returns a unique user id per subtest so tests sharing the
// Postgres database never collide.
func user() string {
	return "user-" + uuid.NewString()
}

func TestResolveThread_CreatesLazily(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		uid := user()
		key := model.AgentKey("scheduler", model.AgentModeDirect)

		first, err := s.ResolveThread(ctx, uid, key, "Scheduler", nil)
		require.NoError(t, err)
		assert.Equal(t, uid, first.UserID)
		assert.Equal(t, key, first.AgentKey)

		again, err := s.ResolveThread(ctx, uid, key, "Scheduler", nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	})
}

func TestResolveThread_ExplicitID(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		uid := user()
		key := model.AgentKey("scheduler", model.AgentModeDirect)

		mine, err := s.CreateThread(ctx, model.Thread{UserID: uid, AgentKey: key, AgentName: "Scheduler"})
		require.NoError(t, err)

		resolved, err := s.ResolveThread(ctx, uid, key, "Scheduler", &mine.ID)
		require.NoError(t, err)
		assert.Equal(t, mine.ID, resolved.ID)

		// A thread owned by someone else must not be reused; resolution
		// falls back to lookup-or-create for the caller.
		theirs, err := s.CreateThread(ctx, model.Thread{UserID: user(), AgentKey: key, AgentName: "Scheduler"})
		require.NoError(t, err)
		resolved, err = s.ResolveThread(ctx, uid, key, "Scheduler", &theirs.ID)
		require.NoError(t, err)
		assert.NotEqual(t, theirs.ID, resolved.ID)
		assert.Equal(t, uid, resolved.UserID)
	})
}

func TestResolveThread_ModeSegregation(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		uid := user()

		direct, err := s.ResolveThread(ctx, uid, model.AgentKey("scheduler", model.AgentModeDirect), "Scheduler", nil)
		require.NoError(t, err)
		supervised, err := s.ResolveThread(ctx, uid, model.AgentKey("scheduler", model.AgentModeSupervised), "Scheduler", nil)
		require.NoError(t, err)

		assert.NotEqual(t, direct.ID, supervised.ID)
	})
}

func TestAppendUserMessage_DedupWindow(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		thread, err := s.ResolveThread(ctx, user(), model.AgentKey("coordinator", model.AgentModeSupervised), "Coordinator", nil)
		require.NoError(t, err)

		_, inserted, err := s.AppendUserMessage(ctx, thread, "book a table for two", nil)
		require.NoError(t, err)
		assert.True(t, inserted)

		// Identical content within the window is a retry, not a new message.
		_, inserted, err = s.AppendUserMessage(ctx, thread, "book a table for two", nil)
		require.NoError(t, err)
		assert.False(t, inserted)

		_, inserted, err = s.AppendUserMessage(ctx, thread, "make that three people", nil)
		require.NoError(t, err)
		assert.True(t, inserted)

		msgs, err := s.ListMessages(ctx, thread.ID, thread.UserID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
	})
}

func TestAppendAssistantMessage(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		thread, err := s.ResolveThread(ctx, user(), model.AgentKey("coordinator", model.AgentModeSupervised), "Coordinator", nil)
		require.NoError(t, err)

		exec := model.Execution{
			ID:      uuid.New(),
			AgentID: "coordinator",
			Status:  model.ExecutionStatusCompleted,
			Messages: []model.ChatMessage{{
				Role: model.RoleAssistant,
				Parts: []model.Part{
					model.ToolInvocationPart{
						ToolCallID: "t1",
						ToolName:   "sendEmail",
						State:      model.ToolStateResult,
						Args:       []byte(`{"to":"a@b.com"}`),
						Result:     []byte(`{"status":"ok"}`),
					},
					model.TextPart{Text: "Sent the email."},
				},
			}},
		}

		msg, inserted, err := s.AppendAssistantMessage(ctx, thread, exec)
		require.NoError(t, err)
		require.True(t, inserted)
		assert.Equal(t, "Sent the email.", msg.Content)
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "sendEmail", msg.ToolCalls[0]["toolName"])
		require.Len(t, msg.ToolResults, 1)

		// A retry within the window inserts nothing.
		_, inserted, err = s.AppendAssistantMessage(ctx, thread, exec)
		require.NoError(t, err)
		assert.False(t, inserted)
	})
}

func TestAppendAssistantMessage_EmptyTextSkipped(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		thread, err := s.ResolveThread(ctx, user(), model.AgentKey("coordinator", model.AgentModeSupervised), "Coordinator", nil)
		require.NoError(t, err)

		exec := model.Execution{ID: uuid.New(), Status: model.ExecutionStatusCompleted}
		_, inserted, err := s.AppendAssistantMessage(ctx, thread, exec)
		require.NoError(t, err)
		assert.False(t, inserted)
	})
}

func TestLoadPriorMessages_OldestFirst(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		thread, err := s.ResolveThread(ctx, user(), model.AgentKey("coordinator", model.AgentModeSupervised), "Coordinator", nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, _, err := s.AppendUserMessage(ctx, thread, fmt.Sprintf("message %d", i), nil)
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}

		msgs, err := s.LoadPriorMessages(ctx, thread.ID, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "message 0", msgs[0].Content)
		assert.Equal(t, "message 2", msgs[2].Content)
	})
}

func TestListThreads_NewestUpdatedFirst(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		uid := user()

		older, err := s.ResolveThread(ctx, uid, model.AgentKey("scheduler", model.AgentModeDirect), "Scheduler", nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		newer, err := s.ResolveThread(ctx, uid, model.AgentKey("researcher", model.AgentModeDirect), "Researcher", nil)
		require.NoError(t, err)

		threads, err := s.ListThreads(ctx, uid, storage.ThreadFilter{})
		require.NoError(t, err)
		require.Len(t, threads, 2)
		assert.Equal(t, newer.ID, threads[0].ID)

		// Activity on the older thread bumps it back to the top.
		time.Sleep(2 * time.Millisecond)
		_, _, err = s.AppendUserMessage(ctx, older, "hello again", nil)
		require.NoError(t, err)

		threads, err = s.ListThreads(ctx, uid, storage.ThreadFilter{})
		require.NoError(t, err)
		assert.Equal(t, older.ID, threads[0].ID)
	})
}

func TestListThreads_FilterAndPaging(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		uid := user()

		sched, err := s.ResolveThread(ctx, uid, model.AgentKey("scheduler", model.AgentModeDirect), "Scheduler", nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		res, err := s.ResolveThread(ctx, uid, model.AgentKey("researcher", model.AgentModeDirect), "Researcher", nil)
		require.NoError(t, err)

		threads, err := s.ListThreads(ctx, uid, storage.ThreadFilter{AgentKey: sched.AgentKey})
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, sched.ID, threads[0].ID)

		threads, err = s.ListThreads(ctx, uid, storage.ThreadFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, res.ID, threads[0].ID)

		threads, err = s.ListThreads(ctx, uid, storage.ThreadFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, sched.ID, threads[0].ID)

		threads, err = s.ListThreads(ctx, uid, storage.ThreadFilter{Offset: 5})
		require.NoError(t, err)
		assert.Empty(t, threads)
	})
}

func TestListMessages_OwnershipEnforced(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		thread, err := s.ResolveThread(ctx, user(), model.AgentKey("coordinator", model.AgentModeSupervised), "Coordinator", nil)
		require.NoError(t, err)

		_, err = s.ListMessages(ctx, thread.ID, "someone-else", 0)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestAPIKeys(t *testing.T) {
	stores(t, func(t *testing.T, s storage.Store) {
		ctx := context.Background()
		uid := user()

		key := model.APIKey{UserID: uid, KeyHash: "hash-a", Label: "laptop"}
		require.NoError(t, s.CreateAPIKey(ctx, key))
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.CreateAPIKey(ctx, model.APIKey{UserID: uid, KeyHash: "hash-b"}))

		keys, err := s.ActiveAPIKeys(ctx, uid)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "hash-a", keys[0].KeyHash)

		require.NoError(t, s.TouchAPIKey(ctx, keys[0].ID))
		keys, err = s.ActiveAPIKeys(ctx, uid)
		require.NoError(t, err)
		assert.NotNil(t, keys[0].LastUsedAt)
	})
}
