package registry

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Set DASHWATCH_TEST_REDIS=host:port to run against a live server.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DASHWATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("DASHWATCH_TEST_REDIS not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	store := RedisStore{Client: client, Prefix: "dashwatch-test:"}
	t.Cleanup(func() {
		client.Del(ctx, store.servicesKey(), store.defaultKey())
	})

	defaults, _ := json.Marshal(Targets{Email: []string{"noc@example.com"}})
	entry, _ := json.Marshal(ServiceEntry{
		Targets:  Targets{Messaging: []string{"+390000001"}},
		Patterns: []string{`ECIS.*Loans?`},
	})
	if err := client.Set(ctx, store.defaultKey(), defaults, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := client.HSet(ctx, store.servicesKey(), "ECIS", entry).Err(); err != nil {
		t.Fatal(err)
	}

	doc, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := doc.Default.Email; len(got) != 1 || got[0] != "noc@example.com" {
		t.Errorf("Default.Email = %v", got)
	}
	if got := New(doc, testLogger()).Resolve("ECIS Loans"); got.Name != "ECIS" {
		t.Errorf("Resolve(ECIS Loans) = %+v", got)
	}
}
