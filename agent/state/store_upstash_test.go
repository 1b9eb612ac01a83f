package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newRecordingServer(t *testing.T, reply string, gotCommand *[]any, gotAuth *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}
		if err := json.NewDecoder(r.Body).Decode(gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "lead:ctx:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "lead:ctx:abc")
	}

	if _, err := store.redisKey("   "); !errors.Is(err, ErrInvalidLead) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidLead", err)
	}
}

func TestUpstashRedisStoreSave(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	var gotAuth string
	server := newRecordingServer(t, `{"result":"OK"}`, &gotCommand, &gotAuth)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
		WithTTL(90*time.Minute),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if err := store.Save(context.Background(), "L1", map[string]any{"qualifier": "hot lead"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotCommand) != 5 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" || gotCommand[1] != "lead:ctx:L1" || gotCommand[3] != "EX" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[4] != float64(5400) {
		t.Fatalf("ttl = %v, want 5400", gotCommand[4])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(gotCommand[2].(string)), &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload["qualifier"] != "hot lead" {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestUpstashRedisStoreLoad(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(`{"legal_analyst":"parecer","score":7}`)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	var gotCommand []any
	server := newRecordingServer(t, fmt.Sprintf(`{"result":%s}`, encoded), &gotCommand, nil)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	data, err := store.Load(context.Background(), "L2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if data["legal_analyst"] != "parecer" || data["score"] != float64(7) {
		t.Fatalf("Load() = %#v", data)
	}
	if gotCommand[0] != "GET" || gotCommand[1] != "lead:ctx:L2" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
}

func TestUpstashRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := newRecordingServer(t, `{"result":null}`, &gotCommand, nil)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if _, err := store.Load(context.Background(), "L3"); !errors.Is(err, ErrContextNotFound) {
		t.Fatalf("Load() error = %v, want ErrContextNotFound", err)
	}
}

func TestUpstashRedisStoreDelete(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := newRecordingServer(t, `{"result":1}`, &gotCommand, nil)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if err := store.Delete(context.Background(), "L4"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotCommand[0] != "DEL" || gotCommand[1] != "lead:ctx:L4" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
}

func TestUpstashRedisStoreSurfacesRESTError(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := newRecordingServer(t, `{"error":"WRONGPASS invalid token"}`, &gotCommand, nil)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "bad"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if err := store.Save(context.Background(), "L5", map[string]any{}); err == nil {
		t.Fatal("expected REST error")
	}
}

func TestNewUpstashRedisStoreValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "t"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
	if (UpstashRedisConfig{URL: "u"}).Enabled() {
		t.Fatal("Enabled() must require a token")
	}
}
