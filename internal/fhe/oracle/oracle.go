// Package oracle is the asynchronous decryption service. The ledger submits
// ciphertext handles and gets a request id back immediately; some time later
// the oracle decrypts, signs the result with each of its secp256k1 keys and
// delivers it through the registered callback.
package oracle

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"credrep/internal/fhe"
	id "credrep/pkg/domain"
	dErrors "credrep/pkg/domain-errors"
	"credrep/pkg/platform/sentinel"
)

const (
	defaultQueueSize   = 256
	defaultRetryDelay  = 500 * time.Millisecond
	defaultMaxAttempts = 5
	maxRetryBackoff    = time.Minute
)

// Callback receives a decryption result. Returning an error whose code is
// CodeUnknownRequest asks the oracle to redeliver later; any other error drops
// the delivery.
type Callback func(ctx context.Context, requestID id.RequestID, cleartexts, attestation []byte) error

type job struct {
	id         id.RequestID
	handles    []fhe.Ciphertext
	acceptedAt time.Time
	due        time.Time
	attempts   int
}

// Oracle queues decryption requests and delivers signed results.
type Oracle struct {
	decrypter   fhe.Decrypter
	signers     []*ecdsa.PrivateKey
	queue       chan job
	newID       func() id.RequestID
	delay       time.Duration
	retryDelay  time.Duration
	maxAttempts int
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time

	mu        sync.Mutex
	cancelled map[id.RequestID]struct{}
}

type Option func(*Oracle)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Oracle) {
		o.metrics = m
	}
}

// WithDelay sets how long a request waits before it is decrypted.
func WithDelay(d time.Duration) Option {
	return func(o *Oracle) {
		o.delay = d
	}
}

// WithRetry configures redelivery for callbacks rejected as unknown requests.
func WithRetry(delay time.Duration, maxAttempts int) Option {
	return func(o *Oracle) {
		o.retryDelay = delay
		o.maxAttempts = maxAttempts
	}
}

// WithRequestIDs replaces the random request id source.
func WithRequestIDs(next func() id.RequestID) Option {
	return func(o *Oracle) {
		o.newID = next
	}
}

func WithQueueSize(n int) Option {
	return func(o *Oracle) {
		o.queue = make(chan job, n)
	}
}

// New constructs an Oracle. At least one signer key is required.
func New(decrypter fhe.Decrypter, signers []*ecdsa.PrivateKey, opts ...Option) (*Oracle, error) {
	if decrypter == nil {
		return nil, fmt.Errorf("decrypter is required")
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("at least one signer key is required")
	}
	o := &Oracle{
		decrypter:   decrypter,
		signers:     signers,
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
		newID:       randomRequestID,
		now:         time.Now,
		cancelled:   make(map[id.RequestID]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queue == nil {
		o.queue = make(chan job, defaultQueueSize)
	}
	if o.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", o.maxAttempts)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// SignerAddresses returns the addresses a Verifier should trust.
func (o *Oracle) SignerAddresses() []common.Address {
	out := make([]common.Address, len(o.signers))
	for i, k := range o.signers {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// RequestDecryption enqueues handles for decryption and returns the request id
// the eventual callback will carry. It never blocks; a full queue is reported
// as unavailable.
func (o *Oracle) RequestDecryption(ctx context.Context, handles []fhe.Ciphertext) (id.RequestID, error) {
	if len(handles) == 0 {
		return 0, fmt.Errorf("%w: no handles", fhe.ErrInvalidInput)
	}
	reqID := o.newID()
	now := o.now()
	j := job{
		id:         reqID,
		handles:    append([]fhe.Ciphertext(nil), handles...),
		acceptedAt: now,
		due:        now.Add(o.delay),
	}
	select {
	case o.queue <- j:
	default:
		return 0, fmt.Errorf("decryption queue full: %w", sentinel.ErrUnavailable)
	}
	if o.metrics != nil {
		o.metrics.IncRequested()
	}
	o.logger.DebugContext(ctx, "decryption requested",
		"request_id", reqID.String(),
		"handles", len(handles),
	)
	return reqID, nil
}

// Cancel withdraws a request whose id the submitter failed to record. The
// job is discarded the next time it comes due.
func (o *Oracle) Cancel(reqID id.RequestID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled[reqID] = struct{}{}
}

func (o *Oracle) takeCancelled(reqID id.RequestID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelled[reqID]
	delete(o.cancelled, reqID)
	return ok
}

// Run processes queued requests until ctx is cancelled.
func (o *Oracle) Run(ctx context.Context, cb Callback) error {
	var pending []job
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := time.Hour
		if len(pending) > 0 {
			wait = max(pending[0].due.Sub(o.now()), 0)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-o.queue:
			pending = insertByDue(pending, j)
		case <-timer.C:
			now := o.now()
			for len(pending) > 0 && !pending[0].due.After(now) {
				j := pending[0]
				pending = pending[1:]
				if retry, ok := o.deliver(ctx, j, cb); ok {
					pending = insertByDue(pending, retry)
				}
			}
		}
	}
}

// deliver decrypts, signs and invokes cb. It returns a job to retry when the
// callback did not recognise the request yet.
func (o *Oracle) deliver(ctx context.Context, j job, cb Callback) (job, bool) {
	logger := o.logger.With("request_id", j.id.String())
	if o.takeCancelled(j.id) {
		logger.DebugContext(ctx, "decryption request withdrawn")
		o.countDelivery("cancelled")
		return job{}, false
	}

	cleartexts, attestation, err := o.Sign(ctx, j.id, j.handles)
	if err != nil {
		logger.ErrorContext(ctx, "decryption failed", "error", err)
		o.countDelivery("dropped")
		return job{}, false
	}

	err = cb(ctx, j.id, cleartexts, attestation)
	switch {
	case err == nil:
		o.countDelivery("ok")
		if o.metrics != nil {
			o.metrics.ObserveDelivery(j.acceptedAt)
		}
		return job{}, false
	case dErrors.HasCode(err, dErrors.CodeUnknownRequest) && j.attempts+1 < o.maxAttempts:
		j.attempts++
		j.due = o.now().Add(backoff(o.retryDelay, j.attempts))
		logger.WarnContext(ctx, "callback did not recognise request, retrying",
			"attempt", j.attempts,
		)
		o.countDelivery("retry")
		return j, true
	default:
		if !errors.Is(err, context.Canceled) {
			logger.WarnContext(ctx, "callback rejected decryption result", "error", err)
		}
		o.countDelivery("dropped")
		return job{}, false
	}
}

// Sign decrypts handles and produces the cleartext blob plus one signature per
// oracle key.
func (o *Oracle) Sign(ctx context.Context, reqID id.RequestID, handles []fhe.Ciphertext) ([]byte, []byte, error) {
	values := make([]uint64, len(handles))
	for i, h := range handles {
		v, err := o.decrypter.Decrypt(ctx, h)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt handle %d: %w", i, err)
		}
		values[i] = v
	}
	cleartexts := EncodeCleartexts(values)
	digest := Digest(reqID, handles, cleartexts)

	attestation := make([]byte, 0, len(o.signers)*SignatureSize)
	for _, key := range o.signers {
		sig, err := crypto.Sign(digest, key)
		if err != nil {
			return nil, nil, fmt.Errorf("sign result: %w", err)
		}
		attestation = append(attestation, sig...)
	}
	return cleartexts, attestation, nil
}

func (o *Oracle) countDelivery(outcome string) {
	if o.metrics != nil {
		o.metrics.IncDelivered(outcome)
	}
}

// backoff doubles base per attempt and caps the result at maxRetryBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		if d >= maxRetryBackoff/2 {
			return maxRetryBackoff
		}
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

// randomRequestID draws 62 random bits from a v4 UUID so ids stay unique
// across restarts and replicas sharing one ledger. Zero is never returned.
func randomRequestID() id.RequestID {
	for {
		u := uuid.New()
		v := binary.BigEndian.Uint64(u[8:]) & (1<<63 - 1)
		if v != 0 {
			return id.RequestID(v)
		}
	}
}

func insertByDue(pending []job, j job) []job {
	i := sort.Search(len(pending), func(i int) bool { return pending[i].due.After(j.due) })
	pending = append(pending, job{})
	copy(pending[i+1:], pending[i:])
	pending[i] = j
	return pending
}
