package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength = 255
	maxBodyBytes = 1 << 20
	anonScope    = "anon"
)

var outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_idempotency_outcomes_total",
	Help: "Idempotency guard decisions, labeled by outcome",
}, []string{"outcome"})

type Config struct {
	// TTL is how long a successful outcome is replayed. After it passes the
	// same key executes again.
	TTL time.Duration
	// LockTTL bounds how long an in-flight reservation survives a crashed executor.
	LockTTL time.Duration
	// Scope returns the authenticated user id, or "" for anonymous callers.
	Scope func(r *http.Request) string
}

// Guard replays the cached outcome of a mutating request that carries an
// Idempotency-Key it has already seen with the same body. Requests without
// the header pass straight through.
type Guard struct {
	store   Store
	ttl     time.Duration
	lockTTL time.Duration
	scope   func(r *http.Request) string
	sf      singleflight.Group
	logger  *logging.Logger
	now     func() time.Time
}

func NewGuard(store Store, cfg Config, logger *logging.Logger) *Guard {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Scope == nil {
		cfg.Scope = func(*http.Request) string { return "" }
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Guard{
		store:   store,
		ttl:     cfg.TTL,
		lockTTL: cfg.LockTTL,
		scope:   cfg.Scope,
		logger:  logger.Named("idempotency"),
		now:     time.Now,
	}
}

// outcome is a complete HTTP response as the guard stores and replays it.
type outcome struct {
	status      int
	contentType string
	body        []byte
	replayed    bool
}

// ScopedKey builds the cache key. The user id keeps one user's token from
// colliding with another's.
func ScopedKey(userID, token string) string {
	if userID == "" {
		userID = anonScope
	}
	return "idem:" + userID + ":" + token
}

// RequestHash fingerprints a request body.
func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(HeaderKey)
		if token == "" {
			outcomesTotal.WithLabelValues("pass_through").Inc()
			next.ServeHTTP(w, r)
			return
		}
		if len(token) > maxKeyLength {
			writeOutcome(w, errorOutcome(http.StatusBadRequest, "Idempotency-Key is too long"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeOutcome(w, errorOutcome(http.StatusRequestEntityTooLarge, "Request body too large"))
				return
			}
			writeOutcome(w, errorOutcome(http.StatusBadRequest, "Unable to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		key := ScopedKey(g.scope(r), token)
		hash := RequestHash(body)

		// Identical requests racing inside this process share one execution.
		leader := false
		v, err, _ := g.sf.Do(key+"|"+hash, func() (interface{}, error) {
			leader = true
			return g.execute(r, key, hash, body, next)
		})
		if err != nil {
			g.logger.Error("idempotency store unavailable", zap.String("key", key), zap.Error(err))
			outcomesTotal.WithLabelValues("error").Inc()
			writeOutcome(w, errorOutcome(http.StatusServiceUnavailable, "Idempotency store unavailable"))
			return
		}
		out := *v.(*outcome)
		if !leader && out.status >= 200 && out.status < 300 {
			outcomesTotal.WithLabelValues("collapsed").Inc()
			out.replayed = true
		}
		writeOutcome(w, &out)
	})
}

func (g *Guard) execute(r *http.Request, key, hash string, body []byte, next http.Handler) (*outcome, error) {
	ctx := r.Context()

	if out, err := g.lookup(ctx, key, hash); out != nil || err != nil {
		return out, err
	}

	token, reserved, err := g.store.Reserve(ctx, key, g.lockTTL)
	if err != nil {
		return nil, err
	}
	if !reserved {
		outcomesTotal.WithLabelValues("in_progress").Inc()
		return errorOutcome(http.StatusConflict, "Request with this Idempotency-Key is in progress"), nil
	}
	defer func() {
		if err := g.store.Release(context.WithoutCancel(ctx), key, token); err != nil {
			g.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	// Another executor may have finished between the lookup and the reservation.
	if out, err := g.lookup(ctx, key, hash); out != nil || err != nil {
		return out, err
	}

	rec := newRecorder()
	r.Body = io.NopCloser(bytes.NewReader(body))
	next.ServeHTTP(rec, r)
	out := rec.outcome()

	if out.status < 200 || out.status >= 300 {
		outcomesTotal.WithLabelValues("not_cached").Inc()
		return out, nil
	}

	now := g.now().UTC()
	record := &domain.IdempotencyRecord{
		Key:            key,
		RequestHash:    hash,
		ResponseStatus: out.status,
		ContentType:    out.contentType,
		ResponseBody:   out.body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.ttl),
	}
	if err := g.store.Save(context.WithoutCancel(ctx), record, g.ttl); err != nil {
		// The operation already committed; the client still gets its answer.
		g.logger.Error("idempotency save failed", zap.String("key", key), zap.Error(err))
	}
	outcomesTotal.WithLabelValues("stored").Inc()
	return out, nil
}

// lookup returns the outcome for a stored key, or nil when there is none.
func (g *Guard) lookup(ctx context.Context, key, hash string) (*outcome, error) {
	rec, err := g.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.RequestHash != hash {
		outcomesTotal.WithLabelValues("mismatch").Inc()
		return errorOutcome(http.StatusUnprocessableEntity, "Idempotency-Key reused with a different request body"), nil
	}
	outcomesTotal.WithLabelValues("replayed").Inc()
	return &outcome{
		status:      rec.ResponseStatus,
		contentType: rec.ContentType,
		body:        rec.ResponseBody,
		replayed:    true,
	}, nil
}

func errorOutcome(status int, msg string) *outcome {
	body, _ := json.Marshal(map[string]interface{}{"success": false, "error": msg})
	return &outcome{status: status, contentType: "application/json", body: body}
}

func writeOutcome(w http.ResponseWriter, out *outcome) {
	if out.contentType != "" {
		w.Header().Set("Content-Type", out.contentType)
	}
	if out.replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	w.WriteHeader(out.status)
	w.Write(out.body)
}

// recorder buffers the downstream response so it can be stored and shared.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) outcome() *outcome {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return &outcome{
		status:      status,
		contentType: r.header.Get("Content-Type"),
		body:        r.body.Bytes(),
	}
}
