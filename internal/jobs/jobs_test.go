package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"dayong/internal/client"
	"dayong/internal/config"
	"dayong/internal/storage"
	"dayong/internal/task/delayed"
	logx "dayong/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	resp any
	err  error
	args []any
}

func (s *stubClient) GetContent(ctx context.Context, args ...any) (any, error) {
	s.args = args
	return s.resp, s.err
}

func openStore(t *testing.T) storage.RowStore {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.CreateTable(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFetchStoresMessage(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	cl := &stubClient{resp: map[string]any{"content": "hello", "author_id": "bot"}}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	work := Fetch(Deps{Store: st, Client: cl, Log: logx.Nop(), Now: func() time.Time { return now }},
		FetchSpec{Path: "/news", Query: map[string]string{"lang": "en"}, ChannelID: "c1"})
	res, err := work(context.Background())
	require.NoError(t, err)

	m, ok := res.(*storage.Message)
	require.True(t, ok)
	assert.Equal(t, []any{"/news", map[string]string{"lang": "en"}}, cl.args)

	rows, err := st.GetRow(context.Background(), &storage.Message{ChannelID: "c1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, m.ID, rows[0].ID)
	assert.Equal(t, "hello", rows[0].Content)
	assert.Equal(t, "bot", rows[0].AuthorID)
	assert.Equal(t, "/news", rows[0].Source)
	assert.True(t, rows[0].CreatedAt.Equal(now))
}

func TestFetchPassesClientErrorThrough(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	work := Fetch(Deps{Store: st, Client: &stubClient{err: assert.AnError}}, FetchSpec{Path: "/x"})
	_, err := work(context.Background())
	require.ErrorIs(t, err, assert.AnError)

	_, err = Fetch(Deps{Store: st}, FetchSpec{Path: "/x"})(context.Background())
	require.ErrorIs(t, err, ErrNoClient)
	_, err = Fetch(Deps{Client: &stubClient{}}, FetchSpec{Path: "/x"})(context.Background())
	require.ErrorIs(t, err, storage.ErrDisabled)
}

func TestPruneRemovesOldRows(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ctx := context.Background()
	now := time.Now()
	for _, m := range []*storage.Message{
		{ChannelID: "c1", Content: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{ChannelID: "c1", Content: "older", CreatedAt: now.Add(-72 * time.Hour)},
		{ChannelID: "c1", Content: "fresh", CreatedAt: now.Add(-time.Hour)},
		{ChannelID: "c2", Content: "other channel", CreatedAt: now.Add(-72 * time.Hour)},
	} {
		require.NoError(t, st.AddRow(ctx, m))
	}

	work := Prune(Deps{Store: st, Log: logx.Nop(), Now: func() time.Time { return now }}, PruneSpec{ChannelID: "c1", MaxAge: 24 * time.Hour})
	res, err := work(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res)

	rows, err := st.GetRow(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "other channel", rows[0].Content)
	assert.Equal(t, "fresh", rows[1].Content)
}

func TestBuild(t *testing.T) {
	t.Parallel()
	_, err := Build(config.JobConfig{Kind: "mail"}, Deps{})
	require.Error(t, err)
	_, err = Build(config.JobConfig{Kind: config.JobPrune, MaxAge: "later"}, Deps{})
	require.Error(t, err)

	work, err := Build(config.JobConfig{Kind: config.JobPrune, MaxAge: "1h"}, Deps{})
	require.NoError(t, err)
	_, err = work(context.Background())
	require.ErrorIs(t, err, storage.ErrDisabled)
}

func TestToMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "plain", toMessage("plain").Content)
	assert.Equal(t, `{"n":1}`, toMessage(map[string]any{"n": 1.0}).Content)
	assert.Equal(t, `[1,2]`, toMessage([]any{1.0, 2.0}).Content)
	m := toMessage(map[string]any{"id": 42.0, "content": "x"})
	assert.Equal(t, "42", m.ID)

	m = toMessage(map[string]any{"id": "m1", "channel_id": "c9", "author_id": "bot", "score": 3.0})
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "c9", m.ChannelID)
	assert.Equal(t, "bot", m.AuthorID)
	assert.JSONEq(t, `{"id":"m1","channel_id":"c9","author_id":"bot","score":3}`, m.Content)
}

// Fetch through the registry end to end, with the HTTP client against a test server.
func TestFetchThroughRegistry(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"from server","channel_id":"srv"}`))
	}))
	t.Cleanup(srv.Close)

	cl, err := client.NewHTTP(client.Config{BaseURL: srv.URL, Timeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	st := openStore(t)

	reg := delayed.New(delayed.Config{}, logx.Nop(), nil)
	t.Cleanup(func() { _ = reg.Stop(context.Background()) })

	_, h, err := reg.Schedule(Fetch(Deps{Store: st, Client: cl}, FetchSpec{Path: "/latest"}), "fetch.latest", 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	rows, err := st.GetRow(context.Background(), &storage.Message{ChannelID: "srv"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "from server", rows[0].Content)
	assert.Equal(t, "/latest", rows[0].Source)
}
