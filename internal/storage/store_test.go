package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "dayong/pkg/logx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseRowStore runs the behavior every driver must share.
func exerciseRowStore(t *testing.T, st RowStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateTable(ctx))

	base := time.Now().Add(-time.Hour)
	msgs := []*Message{
		{ChannelID: "c1", AuthorID: "alice", Content: "hello", Source: "test", CreatedAt: base},
		{ChannelID: "c1", AuthorID: "bob", Content: "hi", Source: "test", CreatedAt: base.Add(time.Minute)},
		{ChannelID: "c2", AuthorID: "alice", Content: "other", Source: "test", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, m := range msgs {
		require.NoError(t, st.AddRow(ctx, m))
		require.NotEmpty(t, m.ID)
	}

	all, err := st.GetRow(ctx, &Message{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hello", all[0].Content)
	assert.Equal(t, "other", all[2].Content)

	c1, err := st.GetRow(ctx, &Message{ChannelID: "c1"})
	require.NoError(t, err)
	require.Len(t, c1, 2)
	assert.True(t, c1[0].CreatedAt.Equal(msgs[0].CreatedAt))

	byID, err := st.GetRow(ctx, &Message{ID: msgs[1].ID})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "bob", byID[0].AuthorID)

	err = st.AddRow(ctx, &Message{ID: msgs[0].ID, Content: "again"})
	require.Error(t, err)

	require.ErrorIs(t, st.RemoveRow(ctx, &Message{}), ErrEmptyTemplate)

	require.NoError(t, st.RemoveRow(ctx, &Message{AuthorID: "alice"}))
	left, err := st.GetRow(ctx, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, msgs[1].ID, left[0].ID)

	none, err := st.GetRow(ctx, &Message{ChannelID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMessageMatches(t *testing.T) {
	t.Parallel()
	at := time.Unix(1700000000, 42)
	row := Message{ID: "1", ChannelID: "c", AuthorID: "a", Content: "x", Source: "s", CreatedAt: at}

	tests := []struct {
		name string
		tpl  *Message
		want bool
	}{
		{name: "nil", tpl: nil, want: true},
		{name: "zero", tpl: &Message{}, want: true},
		{name: "channel", tpl: &Message{ChannelID: "c"}, want: true},
		{name: "channel and author", tpl: &Message{ChannelID: "c", AuthorID: "a"}, want: true},
		{name: "wrong author", tpl: &Message{ChannelID: "c", AuthorID: "b"}, want: false},
		{name: "time", tpl: &Message{CreatedAt: at.In(time.UTC)}, want: true},
		{name: "wrong time", tpl: &Message{CreatedAt: at.Add(time.Nanosecond)}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tpl.Matches(row))
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "dayong.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	exerciseRowStore(t, st)
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "dayong.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	exerciseRowStore(t, st)
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dayong.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.CreateTable(ctx))
	keep := &Message{ChannelID: "c", Content: "keep"}
	drop := &Message{ChannelID: "c", Content: "drop"}
	require.NoError(t, st.AddRow(ctx, keep))
	require.NoError(t, st.AddRow(ctx, drop))
	require.NoError(t, st.RemoveRow(ctx, &Message{ID: drop.ID}))
	require.NoError(t, st.Close())

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "dayong.messages.journal.jsonl"))
	require.NoError(t, err)

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rows, err := st.GetRow(ctx, &Message{ChannelID: "c"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, keep.ID, rows[0].ID)

	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AddRow(ctx, &Message{}), ErrClosed)
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dayong.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fs := st.(*fileStore)
	fs.compactEvery = 3

	for i := 0; i < 3; i++ {
		require.NoError(t, st.AddRow(ctx, &Message{Content: "x"}))
	}
	info, err := os.Stat(filepath.Join(filepath.Dir(path), "dayong.messages.journal.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	_, err = os.Stat(filepath.Join(filepath.Dir(path), "dayong.messages.snapshot.json"))
	require.NoError(t, err)
}

// Set DAYONG_TEST_REDIS=redis://localhost:6379/15 to run against a live server.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("DAYONG_TEST_REDIS")
	if url == "" {
		t.Skip("DAYONG_TEST_REDIS not set")
	}
	prefix := "dayong-test:" + uuid.NewString() + ":"
	st, err := Open(Config{Driver: "redis", RedisURL: url, RedisPrefix: prefix}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		rows, _ := st.GetRow(ctx, nil)
		for _, r := range rows {
			_ = st.RemoveRow(ctx, &Message{ID: r.ID})
		}
		_ = st.Close()
	})

	exerciseRowStore(t, st)
}
