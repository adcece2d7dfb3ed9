package redis

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
)

// PayloadCodec serializes the snapshot entry of a cached post.
type PayloadCodec interface {
	Name() string
	Encode(p post.Post) ([]byte, error)
	Decode(b []byte) (post.Post, error)
}

// JSONCodec is the default codec; payloads stay readable with redis-cli.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(p post.Post) ([]byte, error) { return json.Marshal(p) }

func (JSONCodec) Decode(b []byte) (post.Post, error) {
	var p post.Post
	err := json.Unmarshal(b, &p)
	return p, err
}

// MsgpackCodec trades readability for smaller snapshots.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(p post.Post) ([]byte, error) { return msgpack.Marshal(p) }

func (MsgpackCodec) Decode(b []byte) (post.Post, error) {
	var p post.Post
	err := msgpack.Unmarshal(b, &p)
	return p, err
}

// CodecByName resolves the CACHE_CODEC setting.
func CodecByName(name string) (PayloadCodec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown cache codec %q", name)
	}
}
