package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "dayong/pkg/logx"

	"github.com/gomodule/redigo/redis"
)

// redisStore keeps one JSON value per message under <prefix>msg:<id> and the
// set of known ids under <prefix>msgs.
type redisStore struct {
	pool   *redis.Pool
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (RowStore, error) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = "dayong:"
	}
	log.Debug("redis pool configured", logx.String("prefix", prefix))
	return &redisStore{pool: newPool(url), prefix: prefix, log: log}, nil
}

// newPool creates a redis connection pool.
func newPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     10,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func (s *redisStore) msgKey(id string) string { return s.prefix + "msg:" + id }
func (s *redisStore) indexKey() string        { return s.prefix + "msgs" }

// CreateTable has no schema to create; it verifies connectivity.
func (s *redisStore) CreateTable(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func (s *redisStore) Close() error { return s.pool.Close() }

func (s *redisStore) AddRow(ctx context.Context, m *Message) error {
	if m == nil {
		return errors.New("storage: nil message")
	}
	prepare(m)
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// SET NX replies nil when the key already exists.
	reply, err := conn.Do("SET", s.msgKey(m.ID), data, "NX")
	if err != nil {
		return err
	}
	if reply == nil {
		return fmt.Errorf("%w: %q", ErrDuplicate, m.ID)
	}
	_, err = conn.Do("SADD", s.indexKey(), m.ID)
	return err
}

func (s *redisStore) RemoveRow(ctx context.Context, tpl *Message) error {
	if tpl.IsZero() {
		return ErrEmptyTemplate
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, err := s.match(conn, tpl)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	keys := make([]any, 0, len(rows))
	ids := make([]any, 0, len(rows)+1)
	ids = append(ids, s.indexKey())
	for _, r := range rows {
		keys = append(keys, s.msgKey(r.ID))
		ids = append(ids, r.ID)
	}
	if err := conn.Send("MULTI"); err != nil {
		return err
	}
	if err := conn.Send("DEL", keys...); err != nil {
		return err
	}
	if err := conn.Send("SREM", ids...); err != nil {
		return err
	}
	_, err = conn.Do("EXEC")
	return err
}

func (s *redisStore) GetRow(ctx context.Context, tpl *Message) ([]Message, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := s.match(conn, tpl)
	if err != nil {
		return nil, err
	}
	sortRows(rows)
	return rows, nil
}

func (s *redisStore) match(conn redis.Conn, tpl *Message) ([]Message, error) {
	var ids []string
	if tpl != nil && tpl.ID != "" {
		ids = []string{tpl.ID}
	} else {
		var err error
		ids, err = redis.Strings(conn.Do("SMEMBERS", s.indexKey()))
		if err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.msgKey(id)
	}
	values, err := redis.ByteSlices(conn.Do("MGET", keys...))
	if err != nil {
		return nil, err
	}

	var out []Message
	for i, v := range values {
		if v == nil {
			// Index entry without a value: drop it.
			_, _ = conn.Do("SREM", s.indexKey(), ids[i])
			continue
		}
		var m Message
		if err := json.Unmarshal(v, &m); err != nil {
			s.log.Warn("skipping undecodable message", logx.String("id", ids[i]), logx.Err(err))
			continue
		}
		if tpl.Matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}
