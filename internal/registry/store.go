package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// FileStore reads the registry from a YAML or JSON file.
type FileStore struct {
	Path string
}

// Load parses the file. A missing file yields an empty document.
func (s FileStore) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{Services: map[string]ServiceEntry{}}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read registry %s: %w", s.Path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse registry %s: %w", s.Path, err)
	}
	if doc.Services == nil {
		doc.Services = map[string]ServiceEntry{}
	}
	return doc, nil
}

// RedisStore reads the registry from a hash of JSON-encoded entries plus a
// key holding the default targets.
type RedisStore struct {
	Client redis.UniversalClient
	Prefix string
}

func (s RedisStore) servicesKey() string { return s.Prefix + "services" }
func (s RedisStore) defaultKey() string  { return s.Prefix + "default" }

// Load fetches every entry. A missing default key yields empty defaults.
func (s RedisStore) Load(ctx context.Context) (Document, error) {
	doc := Document{Services: map[string]ServiceEntry{}}

	raw, err := s.Client.Get(ctx, s.defaultKey()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Document{}, fmt.Errorf("get %s: %w", s.defaultKey(), err)
	default:
		if err := json.Unmarshal(raw, &doc.Default); err != nil {
			return Document{}, fmt.Errorf("decode %s: %w", s.defaultKey(), err)
		}
	}

	fields, err := s.Client.HGetAll(ctx, s.servicesKey()).Result()
	if err != nil {
		return Document{}, fmt.Errorf("hgetall %s: %w", s.servicesKey(), err)
	}
	for name, value := range fields {
		var svc ServiceEntry
		if err := json.Unmarshal([]byte(value), &svc); err != nil {
			return Document{}, fmt.Errorf("decode service %q: %w", name, err)
		}
		doc.Services[name] = svc
	}
	return doc, nil
}
