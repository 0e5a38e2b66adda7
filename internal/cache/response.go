package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Response: закэшированный HTTP-ответ.
type Response struct {
	Status int                 `msgpack:"s"`
	Header map[string][]string `msgpack:"h"`
	Body   []byte              `msgpack:"b"`
}

// ResponseStore хранит ответы для кэширующего middleware.
//
// Clear увеличивает поколение хранилища. Set принимает поколение, снятое до
// чтения данных, и ничего не пишет, если с тех пор был Clear: ответ,
// собранный до изменения, не попадает в кэш после его сброса.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Generation(ctx context.Context) (uint64, error)
	// Set сохраняет ответ, если поколение всё ещё gen.
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration, gen uint64) error
	// Clear сбрасывает все ответы (сохранение/удаление любой сущности).
	Clear(ctx context.Context) error
}

// MemoryResponseStore: ответы в LRU процесса.
type MemoryResponseStore struct {
	mu  sync.Mutex
	gen uint64
	lru *Cache
}

func NewMemoryResponseStore(maxEntries int) *MemoryResponseStore {
	return &MemoryResponseStore{lru: New(maxEntries, 0)}
}

func (s *MemoryResponseStore) Get(_ context.Context, key string) (*Response, bool, error) {
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*Response), true, nil
}

func (s *MemoryResponseStore) Generation(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, nil
}

func (s *MemoryResponseStore) Set(_ context.Context, key string, resp *Response, ttl time.Duration, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.lru.SetWithTTL(key, resp, ttl)
	return nil
}

func (s *MemoryResponseStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.lru.Clear()
	return nil
}

func (s *MemoryResponseStore) Metrics() Metrics { return s.lru.Metrics() }

// RedisResponseStore: общий кэш для нескольких инстансов, значения в msgpack.
//
// Все ключи лежат под одним hash tag {prefix}: в кластере они попадают в
// один слот, и скрипт Set видит поколение и запись на одном узле.
type RedisResponseStore struct {
	client redis.UniversalClient
	prefix string
}

// setIfGeneration: KEYS[1] поколение, KEYS[2] запись; ARGV: gen, тело, ttl в мс.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

func NewRedisResponseStore(client redis.UniversalClient, prefix string) *RedisResponseStore {
	if prefix == "" {
		prefix = "amethyst:resp:"
	}
	return &RedisResponseStore{client: client, prefix: prefix}
}

func (s *RedisResponseStore) tag() string { return "{" + s.prefix + "}" }

func (s *RedisResponseStore) genKey() string { return s.tag() + "gen" }

func (s *RedisResponseStore) entryKey(key string) string { return s.tag() + "r:" + key }

func (s *RedisResponseStore) Get(ctx context.Context, key string) (*Response, bool, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	resp, err := DecodeResponse(raw)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

func (s *RedisResponseStore) Generation(ctx context.Context) (uint64, error) {
	gen, err := s.client.Get(ctx, s.genKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, errors.Wrap(err, "redis get generation")
}

func (s *RedisResponseStore) Set(ctx context.Context, key string, resp *Response, ttl time.Duration, gen uint64) error {
	raw, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	keys := []string{s.genKey(), s.entryKey(key)}
	err = setIfGeneration.Run(ctx, s.client, keys, strconv.FormatUint(gen, 10), raw, ttl.Milliseconds()).Err()
	return errors.Wrap(err, "redis set")
}

// Clear сначала двигает поколение, затем удаляет записи. В кластере
// записи ищутся на каждом master-узле.
func (s *RedisResponseStore) Clear(ctx context.Context) error {
	if err := s.client.Incr(ctx, s.genKey()).Err(); err != nil {
		return errors.Wrap(err, "redis incr generation")
	}
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return s.clearNode(ctx, node)
		})
	}
	return s.clearNode(ctx, s.client)
}

func (s *RedisResponseStore) clearNode(ctx context.Context, c redis.Cmdable) error {
	iter := c.Scan(ctx, 0, globEscape(s.tag()+"r:")+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := c.Del(ctx, batch...).Err(); err != nil {
				return errors.Wrap(err, "redis del")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "redis scan")
	}
	if len(batch) > 0 {
		return errors.Wrap(c.Del(ctx, batch...).Err(), "redis del")
	}
	return nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }

func EncodeResponse(resp *Response) ([]byte, error) {
	b, err := msgpack.Marshal(resp)
	return b, errors.Wrap(err, "encode cached response")
}

func DecodeResponse(raw []byte) (*Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode cached response")
	}
	return &resp, nil
}
