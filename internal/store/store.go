// Package store defines the storage capabilities the analytics engine runs on.
// A browser profile has three scopes: a durable store that survives sessions,
// a session-scoped store that expires with the browsing session, and a cookie
// store used as a durability fallback for the anonymous id.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
)

// KV is a minimal key-value capability for one storage scope.
// Implementations must treat a missing key as (value="", found=false, err=nil).
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Stores bundles the three scopes a profile's state lives in.
type Stores struct {
	Durable KV
	Session KV
	Cookie  KV
}

// Backend hands out profile-scoped KV views over a shared store.
type Backend interface {
	ForProfile(profileID string) KV
}

// Result reports how a read resolved. Recovered is true when the engine fell
// back to a default because the store failed or held unparseable state.
// Telemetry must never break the caller, so recovery replaces propagation.
type Result struct {
	Found     bool
	Recovered bool
}

// GetJSON reads key from kv and unmarshals it into out. A read error or
// corrupt value yields Result{Recovered: true} and leaves out untouched.
func GetJSON(ctx context.Context, kv KV, key string, out any) Result {
	raw, found, err := kv.Get(ctx, key)
	if err != nil {
		slog.Warn("store read failed, using default", "key", key, "error", err)
		return Result{Recovered: true}
	}
	if !found {
		return Result{}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		slog.Warn("store value unparseable, using default", "key", key, "error", err)
		return Result{Recovered: true}
	}
	return Result{Found: true}
}

// PutJSON marshals v and writes it under key. Returns false (after logging)
// instead of an error when the write cannot be completed.
func PutJSON(ctx context.Context, kv KV, key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("store value not serializable", "key", key, "error", err)
		return false
	}
	if err := kv.Set(ctx, key, string(raw)); err != nil {
		slog.Warn("store write failed", "key", key, "error", err)
		return false
	}
	return true
}

// GetString reads a plain string value, recovering to "" on failure.
func GetString(ctx context.Context, kv KV, key string) (string, Result) {
	raw, found, err := kv.Get(ctx, key)
	if err != nil {
		slog.Warn("store read failed, using default", "key", key, "error", err)
		return "", Result{Recovered: true}
	}
	return raw, Result{Found: found}
}

// PutString writes a plain string value, logging instead of failing.
func PutString(ctx context.Context, kv KV, key, value string) bool {
	if err := kv.Set(ctx, key, value); err != nil {
		slog.Warn("store write failed", "key", key, "error", err)
		return false
	}
	return true
}
