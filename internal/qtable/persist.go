package qtable

// #region imports
import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/qrefine/internal/action"
)

// #endregion

// #region ordered-json

func (o OrderedStates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sv := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(sv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(sv.Values)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *OrderedStates) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("qtable: expected object, got %v", tok)
	}
	var out OrderedStates
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("qtable: expected state key, got %v", tok)
		}
		var vals map[action.Action]float64
		if err := dec.Decode(&vals); err != nil {
			return fmt.Errorf("qtable state %s: %w", key, err)
		}
		out = append(out, StateValues{Key: key, Values: vals})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// #endregion

// #region file-persister

// FilePersister stores snapshots as indented JSON on disk.
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

func (f *FilePersister) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", f.Path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return s, nil
}

// Save writes to a temp file in the same directory and renames it into
// place so readers never observe a partial file.
func (f *FilePersister) Save(_ context.Context, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return writeFileAtomic(f.Path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// #endregion

// #region redis-persister

// RedisPersister stores the snapshot JSON under one key so several
// processes can share a learning state.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister wraps an existing client.
func NewRedisPersister(client *redis.Client, key string) *RedisPersister {
	if key == "" {
		key = "qrefine:qtable"
	}
	return &RedisPersister{client: client, key: key}
}

// DialRedis parses a redis:// URL and returns a persister for it.
func DialRedis(url, key string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisPersister(redis.NewClient(opts), key), nil
}

func (r *RedisPersister) Load(ctx context.Context) (Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", r.key, err)
	}
	return s, nil
}

func (r *RedisPersister) Save(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisPersister) Close() error {
	return r.client.Close()
}

// #endregion
