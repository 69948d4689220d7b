// Package jobs builds task bodies for the delayed registry from configuration.
//
// Bodies only call the row store and the content client; errors from either
// are returned unmodified so they surface on the task handle.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dayong/internal/client"
	"dayong/internal/config"
	"dayong/internal/storage"
	"dayong/internal/task/delayed"
	logx "dayong/pkg/logx"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// ErrNoClient is returned by a fetch body when no content client is configured.
var ErrNoClient = errors.New("jobs: content client not configured")

// Deps are the collaborators shared by every body.
type Deps struct {
	Store  storage.RowStore
	Client client.Client
	Log    logx.Logger
	Now    func() time.Time // defaults to time.Now
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// FetchSpec configures a fetch body.
type FetchSpec struct {
	Path      string
	Query     map[string]string
	ChannelID string
	Source    string // defaults to Path
}

// PruneSpec configures a prune body.
type PruneSpec struct {
	ChannelID string
	Source    string
	MaxAge    time.Duration
}

// Build returns the body described by a job config.
func Build(jc config.JobConfig, d Deps) (delayed.Func, error) {
	switch jc.Kind {
	case config.JobFetch:
		return Fetch(d, FetchSpec{Path: jc.Path, Query: jc.Query, ChannelID: jc.ChannelID, Source: jc.Source}), nil
	case config.JobPrune:
		age, err := config.ParseDurationField("max_age", jc.MaxAge)
		if err != nil {
			return nil, err
		}
		return Prune(d, PruneSpec{ChannelID: jc.ChannelID, Source: jc.Source, MaxAge: age}), nil
	default:
		return nil, fmt.Errorf("jobs: unknown kind %q", jc.Kind)
	}
}

// Fetch gets content from the client and stores it as one message.
// The stored *storage.Message is the task result.
func Fetch(d Deps, spec FetchSpec) delayed.Func {
	source := spec.Source
	if source == "" {
		source = spec.Path
	}
	return func(ctx context.Context, args ...any) (any, error) {
		if d.Client == nil {
			return nil, ErrNoClient
		}
		if d.Store == nil {
			return nil, storage.ErrDisabled
		}
		resp, err := d.Client.GetContent(ctx, spec.Path, spec.Query)
		if err != nil {
			return nil, err
		}
		m := toMessage(resp)
		m.ChannelID = lo.CoalesceOrEmpty(spec.ChannelID, m.ChannelID)
		m.Source = source
		m.CreatedAt = d.now()
		if err := d.Store.AddRow(ctx, m); err != nil {
			return nil, err
		}
		d.Log.Debug("content stored", logx.String("id", m.ID), logx.String("channel", m.ChannelID), logx.String("source", source))
		return m, nil
	}
}

// Prune removes matching messages older than MaxAge and returns how many
// were removed.
func Prune(d Deps, spec PruneSpec) delayed.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if d.Store == nil {
			return nil, storage.ErrDisabled
		}
		rows, err := d.Store.GetRow(ctx, &storage.Message{ChannelID: spec.ChannelID, Source: spec.Source})
		if err != nil {
			return nil, err
		}
		cutoff := d.now().Add(-spec.MaxAge)
		old := lo.Filter(rows, func(m storage.Message, _ int) bool { return m.CreatedAt.Before(cutoff) })

		removed := 0
		for _, m := range old {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if err := d.Store.RemoveRow(ctx, &storage.Message{ID: m.ID}); err != nil {
				return removed, err
			}
			removed++
		}
		if removed > 0 {
			d.Log.Info("messages pruned", logx.Int("removed", removed), logx.String("channel", spec.ChannelID), logx.Duration("max_age", spec.MaxAge))
		}
		return removed, nil
	}
}

// toMessage maps a client response onto a message. Objects may carry
// "id", "channel_id", "author_id" and "content"; without "content" the whole
// response is stored as its JSON encoding.
func toMessage(resp any) *storage.Message {
	m := &storage.Message{}
	switch v := resp.(type) {
	case string:
		m.Content = v
		return m
	case map[string]any:
		m.ID = str(v["id"])
		m.ChannelID = str(v["channel_id"])
		m.AuthorID = str(v["author_id"])
		m.Content = str(v["content"])
		if m.Content != "" {
			return m
		}
	}
	b, err := json.Marshal(resp)
	if err != nil {
		m.Content = fmt.Sprint(resp)
		return m
	}
	m.Content = string(b)
	return m
}

func str(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}
