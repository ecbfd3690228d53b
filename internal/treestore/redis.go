package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "tree:"
	changesChannel = "tree:changes"
)

// RedisStore implements Store on Redis. Every leaf lives under its own key
// and subtree reads reassemble the hierarchy by scanning the path prefix.
// Change notifications fan out over a single pub/sub channel carrying the
// written path.
type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.Mutex
	watchers map[int]watcher
	nextID   int
}

type watcher struct {
	path string
	fn   func()
}

// NewRedisStore connects to Redis and starts the change dispatcher.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &RedisStore{
		client:   client,
		pubsub:   client.Subscribe(context.Background(), changesChannel),
		watchers: make(map[int]watcher),
	}
	go s.dispatch()
	return s, nil
}

func (s *RedisStore) key(path string) string {
	return redisKeyPrefix + path
}

// Get returns the subtree rooted at path, reassembled from leaf keys.
func (s *RedisStore) Get(ctx context.Context, path string) (Node, error) {
	raw, err := s.client.Get(ctx, s.key(path)).Result()
	if err == nil {
		return decodeLeaf(raw), nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	keys, err := s.subtreeKeys(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", path, err)
	}

	root := map[string]Node{}
	prefix := s.key(path) + "/"
	for i, key := range keys {
		str, ok := values[i].(string)
		if !ok {
			continue
		}
		insertLeaf(root, key[len(prefix):], decodeLeaf(str))
	}
	return root, nil
}

// Set replaces the subtree at path with the given scalar or nested map.
func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	leaves := map[string]any{}
	flatten(path, value, leaves)

	stale, err := s.subtreeKeys(ctx, path)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if len(stale) > 0 {
		pipe.Del(ctx, stale...)
	}
	pipe.Del(ctx, s.key(path))
	for leafPath, leafValue := range leaves {
		encoded, err := json.Marshal(leafValue)
		if err != nil {
			return fmt.Errorf("encode %s: %w", leafPath, err)
		}
		pipe.Set(ctx, s.key(leafPath), encoded, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}

	if err := s.client.Publish(ctx, changesChannel, path).Err(); err != nil {
		return fmt.Errorf("publish change %s: %w", path, err)
	}
	return nil
}

// Subscribe registers a watch on path. The callback fires once immediately
// so new watchers always observe the current state.
func (s *RedisStore) Subscribe(path string, fn func()) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = watcher{path: path, fn: fn}
	s.mu.Unlock()

	go fn()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	_ = s.pubsub.Close()
	return s.client.Close()
}

func (s *RedisStore) dispatch() {
	for msg := range s.pubsub.Channel() {
		changed := msg.Payload

		s.mu.Lock()
		var fns []func()
		for _, w := range s.watchers {
			if pathsOverlap(changed, w.path) {
				fns = append(fns, w.fn)
			}
		}
		s.mu.Unlock()

		for _, fn := range fns {
			go fn()
		}
	}
}

func (s *RedisStore) subtreeKeys(ctx context.Context, path string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(path)+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return keys, nil
}

func decodeLeaf(raw string) Node {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Printf("treestore: undecodable leaf %q: %v", raw, err)
		return raw
	}
	return value
}
