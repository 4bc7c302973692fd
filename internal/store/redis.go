package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"iter"
	"net/url"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/stitch/internal/errors"
	"github.com/roach88/stitch/internal/ir"
)

const (
	redisBackend  = "redis"
	defaultPrefix = "stitch"
)

// maxSeqScript raises the stored high-water mark, never lowers it.
var maxSeqScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > cur then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// Redis stores each entity as a hash of statement id to statement JSON.
// Entity ids live in a sorted set with equal scores so Scan can page in
// lexicographic order.
//
// Keys, for prefix p:
//
//	p:entity:<id>  hash     statement id -> statement JSON
//	p:entities     zset     entity ids, score 0
//	p:tags         hash     incremental tags
//	p:seq          string   highest seq written
type Redis struct {
	client *redis.Client
	prefix string
}

var (
	_ Store     = (*Redis)(nil)
	_ Tags      = (*Redis)(nil)
	_ Sequencer = (*Redis)(nil)
)

// OpenRedis connects to the server named by uri. A "prefix" query
// parameter namespaces the keys (default "stitch").
func OpenRedis(ctx context.Context, uri string) (*Redis, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse redis uri"), errors.ErrConfig)
	}
	q := u.Query()
	prefix := q.Get("prefix")
	if prefix == "" {
		prefix = defaultPrefix
	}
	q.Del("prefix")
	u.RawQuery = q.Encode()

	opt, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse redis uri"), errors.ErrConfig)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storeErr(redisBackend, "connect", err)
	}
	return NewRedis(client, prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) entityKey(id string) string { return r.prefix + ":entity:" + id }
func (r *Redis) idsKey() string             { return r.prefix + ":entities" }
func (r *Redis) tagsKey() string            { return r.prefix + ":tags" }
func (r *Redis) seqKey() string             { return r.prefix + ":seq" }

func (r *Redis) Put(ctx context.Context, stmts []ir.Statement) (int, error) {
	if r.client == nil {
		return 0, storeErr(redisBackend, "put", ErrClosed)
	}
	if len(stmts) == 0 {
		return 0, nil
	}

	var top int64
	cmds := make([]*redis.BoolCmd, len(stmts))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, st := range stmts {
			data, err := marshalStatement(st)
			if err != nil {
				return err
			}
			cmds[i] = pipe.HSetNX(ctx, r.entityKey(st.EntityID), st.ID, data)
			pipe.ZAddNX(ctx, r.idsKey(), redis.Z{Member: st.EntityID})
			top = max(top, st.Seq)
		}
		return nil
	})
	if err != nil {
		return 0, storeErr(redisBackend, "put", err)
	}

	inserted := 0
	for _, cmd := range cmds {
		if cmd.Val() {
			inserted++
		}
	}
	if inserted > 0 {
		if err := maxSeqScript.Run(ctx, r.client, []string{r.seqKey()}, top).Err(); err != nil {
			return inserted, storeErr(redisBackend, "put", err)
		}
	}
	return inserted, nil
}

func (r *Redis) Get(ctx context.Context, entityID string) ([]ir.Statement, error) {
	if r.client == nil {
		return nil, storeErr(redisBackend, "get", ErrClosed)
	}
	raw, err := r.client.HVals(ctx, r.entityKey(entityID)).Result()
	if err != nil {
		return nil, storeErr(redisBackend, "get", err)
	}
	stmts := make([]ir.Statement, 0, len(raw))
	for _, data := range raw {
		st, err := unmarshalStatement(data)
		if err != nil {
			return nil, storeErr(redisBackend, "get", errors.Wrapf(err, "decode statement of %s", entityID))
		}
		stmts = append(stmts, st)
	}
	ir.SortStatements(stmts)
	return stmts, nil
}

// Scan pages through the entity id set by lexicographic range. Ids added
// behind the cursor during a scan are not visited.
func (r *Redis) Scan(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if r.client == nil {
			yield("", storeErr(redisBackend, "scan", ErrClosed))
			return
		}
		start := "-"
		for {
			page, err := r.client.ZRangeArgs(ctx, redis.ZRangeArgs{
				Key:   r.idsKey(),
				Start: start,
				Stop:  "+",
				ByLex: true,
				Count: scanPage,
			}).Result()
			if err != nil {
				yield("", storeErr(redisBackend, "scan", err))
				return
			}
			for _, id := range page {
				if !yield(id, nil) {
					return
				}
			}
			if len(page) < scanPage {
				return
			}
			start = "(" + page[len(page)-1]
		}
	}
}

func (r *Redis) HasTag(ctx context.Context, key string) (bool, error) {
	if r.client == nil {
		return false, storeErr(redisBackend, "has tag", ErrClosed)
	}
	ok, err := r.client.HExists(ctx, r.tagsKey(), key).Result()
	if err != nil {
		return false, storeErr(redisBackend, "has tag", err)
	}
	return ok, nil
}

func (r *Redis) PutTag(ctx context.Context, key, value string) error {
	if r.client == nil {
		return storeErr(redisBackend, "put tag", ErrClosed)
	}
	return storeErr(redisBackend, "put tag", r.client.HSetNX(ctx, r.tagsKey(), key, value).Err())
}

func (r *Redis) MaxSeq(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, storeErr(redisBackend, "max seq", ErrClosed)
	}
	seq, err := r.client.Get(ctx, r.seqKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr(redisBackend, "max seq", err)
	}
	return seq, nil
}

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// exactString keeps a string's bytes through JSON. Valid UTF-8 encodes as
// a plain string; anything else as {"b64": ...}, because encoding/json
// replaces invalid bytes with U+FFFD.
type exactString string

func (s exactString) MarshalJSON() ([]byte, error) {
	if utf8.ValidString(string(s)) {
		return json.Marshal(string(s))
	}
	return json.Marshal(rawBytes{B64: base64.StdEncoding.EncodeToString([]byte(s))})
}

func (s *exactString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var raw rawBytes
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(raw.B64)
		if err != nil {
			return err
		}
		*s = exactString(b)
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = exactString(v)
	return nil
}

type rawBytes struct {
	B64 string `json:"b64"`
}

// redisStatement is the stored form of a statement. Text fields round-trip
// byte for byte, so the id still hashes from the stored fields.
type redisStatement struct {
	ID       exactString `json:"id"`
	EntityID exactString `json:"entity_id"`
	Schema   exactString `json:"schema"`
	Property exactString `json:"prop"`
	Value    exactString `json:"value"`
	Dataset  exactString `json:"dataset"`
	Origin   exactString `json:"origin"`
	Seq      int64       `json:"seq"`
}

func marshalStatement(st ir.Statement) (string, error) {
	data, err := json.Marshal(redisStatement{
		ID:       exactString(st.ID),
		EntityID: exactString(st.EntityID),
		Schema:   exactString(st.Schema),
		Property: exactString(st.Property),
		Value:    exactString(st.Value),
		Dataset:  exactString(st.Dataset),
		Origin:   exactString(st.Origin),
		Seq:      st.Seq,
	})
	if err != nil {
		return "", errors.Wrapf(err, "marshal statement %s", st.ID)
	}
	return string(data), nil
}

func unmarshalStatement(data string) (ir.Statement, error) {
	var rs redisStatement
	if err := json.Unmarshal([]byte(data), &rs); err != nil {
		return ir.Statement{}, err
	}
	return ir.Statement{
		ID:       string(rs.ID),
		EntityID: string(rs.EntityID),
		Schema:   string(rs.Schema),
		Property: string(rs.Property),
		Value:    string(rs.Value),
		Dataset:  string(rs.Dataset),
		Origin:   string(rs.Origin),
		Seq:      rs.Seq,
	}, nil
}
