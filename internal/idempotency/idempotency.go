package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	errors "github.com/idanlevi/captionflow/internal"
)

// BeginState is what a store reports when an execution attempts to claim a key.
type BeginState string

const (
	StateNew        BeginState = "new"
	StateReplay     BeginState = "replay"
	StateConflict   BeginState = "conflict"
	StateInProgress BeginState = "in_progress"
)

type BeginResult struct {
	State  BeginState
	Result []byte
}

// Store persists idempotency records. Begin must be atomic: under concurrent
// calls with the same key exactly one caller observes StateNew.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, ttl time.Duration) (BeginResult, error)
	Complete(ctx context.Context, key, fingerprint string, result []byte, ttl time.Duration) error
	Fail(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, pendingStall time.Duration) (int64, error)
}

type Config struct {
	TTL          time.Duration
	WaitInterval time.Duration
	WaitTimeout  time.Duration
}

// Runner wraps a side-effecting operation with at-most-once semantics.
type Runner struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

func NewRunner(store Store, cfg Config, logger *slog.Logger) *Runner {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 200 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	return &Runner{store: store, cfg: cfg, logger: logger}
}

// Fingerprint hashes the normalized request payload. Key reuse with a
// different fingerprint is a policy violation, never silently served.
func Fingerprint(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// GenerateKey returns a collision-resistant default key for callers that do
// not derive one from their own identifiers.
func GenerateKey() string {
	return uuid.NewString()
}

// Do executes op at most once for the given key. Duplicate invocations with
// the same payload observe the first execution's result; an in-flight
// execution is waited for with bounded backoff. A failed execution does not
// poison the key: failures are usually transient, unlike successes which
// must never be double-applied.
func (r *Runner) Do(ctx context.Context, key string, payload any, op func(context.Context) ([]byte, error)) ([]byte, error) {
	fingerprint, err := Fingerprint(payload)
	if err != nil {
		return nil, errors.NewInternalError("cannot fingerprint request payload", err)
	}

	deadline := time.Now().Add(r.cfg.WaitTimeout)

	for {
		begin, err := r.store.Begin(ctx, key, fingerprint, r.cfg.TTL)
		if err != nil {
			// fail closed: skipping idempotency would risk double execution
			return nil, errors.NewUnavailableError("idempotency store unavailable", errors.ErrCodeIdempotencyStoreDown).WithCause(err)
		}

		switch begin.State {
		case StateNew:
			return r.execute(ctx, key, fingerprint, op)

		case StateReplay:
			r.logger.Info("idempotent replay served from cached result", "key", key)
			return begin.Result, nil

		case StateConflict:
			r.logger.Error("idempotency key reused with different payload", "key", key)
			return nil, errors.ErrIdempotencyConflict

		case StateInProgress:
			if time.Now().After(deadline) {
				r.logger.Warn("gave up waiting for in-flight execution", "key", key)
				return nil, errors.ErrStillProcessing
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.WaitInterval):
			}

		default:
			return nil, errors.NewInternalError(fmt.Sprintf("unknown idempotency state %q", begin.State), nil)
		}
	}
}

func (r *Runner) execute(ctx context.Context, key, fingerprint string, op func(context.Context) ([]byte, error)) ([]byte, error) {
	// the operation must run to completion even if the caller abandons the
	// connection mid-flight, otherwise the record stays pending forever
	opCtx := context.WithoutCancel(ctx)

	result, opErr := op(opCtx)
	if opErr != nil {
		if failErr := r.store.Fail(opCtx, key, fingerprint); failErr != nil {
			r.logger.Error("could not mark idempotency record failed",
				"key", key, "error", failErr)
		}
		return nil, opErr
	}

	if err := r.store.Complete(opCtx, key, fingerprint, result, r.cfg.TTL); err != nil {
		// the effect is applied; losing the cache entry only costs a
		// potential conflict on redelivery, so surface the result anyway
		r.logger.Error("could not mark idempotency record completed",
			"key", key, "error", err)
	}
	return result, nil
}

var numericTxnID = regexp.MustCompile(`^[0-9]{6,12}$`)

// ValidTransactionID accepts gateway transaction identifiers that are either
// numeric of plausible length or canonical UUIDs. Anything else is rejected
// before it can become a cache key.
func ValidTransactionID(id string) bool {
	if id == "" {
		return false
	}
	if numericTxnID.MatchString(id) {
		return true
	}
	if len(id) == 36 {
		if _, err := uuid.Parse(id); err == nil {
			return true
		}
	}
	return false
}
