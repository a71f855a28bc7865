// Package statesync runs the scheduler that turns committed business changes
// into signed, chained state channel snapshots.
//
// A single goroutine owns the chain head. It waits for a tick or a wake from
// the Notifier, captures the store, seals the snapshot onto the last accepted
// hash and submits it. Only an Accepted outcome moves the head. Retryable
// outcomes leave the dirty flag set so the change is published later; a
// refused envelope is remembered and not sealed again until state changes.
package statesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/network"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/observability"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/retry"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
)

type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateDeciding
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateDeciding:
		return "deciding"
	case StateSubmitting:
		return "submitting"
	}
	return "unknown"
}

// Submitter is the part of network.Client the scheduler needs.
type Submitter interface {
	Submit(ctx context.Context, address string, env *chain.Envelope) network.Outcome
	LatestSnapshot(ctx context.Context, address string) (network.ChannelHead, error)
}

// Recorder persists accepted envelopes and the points where the head was
// taken from the node (journal.Journal).
type Recorder interface {
	Append(ctx context.Context, env *chain.Envelope, ordinal *uint64) error
	Checkpoint(ctx context.Context, head chain.Hash, cause string) error
}

// Archiver copies accepted envelopes to durable storage (archive.S3Archive).
type Archiver interface {
	Archive(ctx context.Context, env *chain.Envelope, ordinal *uint64) error
}

type Config struct {
	BusinessName     string
	Interval         time.Duration
	MinSubmitSpacing time.Duration
	MaxFingerprints  int
	Retry            retry.BackoffPolicy
}

type pending struct {
	env        *chain.Envelope
	generation uint64
}

// rejection remembers the last envelope the node refused for a reason other
// than a stale head. Sealing the same state onto the same head reproduces it
// byte for byte, so it is never sent again.
type rejection struct {
	hash       chain.Hash
	generation uint64
}

var errAlreadyRejected = errors.New("envelope already rejected")

type Service struct {
	cfg      Config
	signer   crypto.Signer
	view     snapshot.AggregateView
	client   Submitter
	notifier *Notifier
	limiter  *rate.Limiter

	journal        Recorder
	archive        Archiver
	archiveTimeout time.Duration
	obs            *observability.Provider
	logger         *slog.Logger

	state atomic.Int32
	head  atomic.Pointer[chain.Hash]

	// Owned by the Run goroutine.
	reconciled bool
	pending    *pending
	rejected   *rejection
}

type Option func(*Service)

func WithJournal(r Recorder) Option {
	return func(s *Service) { s.journal = r }
}

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archive = a }
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New builds a scheduler. The chain head is unknown until the first cycle
// reconciles it with the node.
func New(cfg Config, signer crypto.Signer, view snapshot.AggregateView, client Submitter, notifier *Notifier, opts ...Option) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	limit := rate.Inf
	if cfg.MinSubmitSpacing > 0 {
		limit = rate.Every(cfg.MinSubmitSpacing)
	}

	s := &Service{
		cfg:            cfg,
		signer:         signer,
		view:           view,
		client:         client,
		notifier:       notifier,
		limiter:        rate.NewLimiter(limit, 1),
		archiveTimeout: 30 * time.Second,
		logger:         slog.Default().With("component", "statesync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	genesis := chain.Genesis
	s.head.Store(&genesis)
	return s
}

func (s *Service) Notifier() *Notifier { return s.notifier }

func (s *Service) State() State { return State(s.state.Load()) }

// LastAcceptedHash is the hash of the newest envelope the node is known to
// hold. It is genesis until the first reconciliation.
func (s *Service) LastAcceptedHash() chain.Hash { return *s.head.Load() }

func (s *Service) setState(st State) { s.state.Store(int32(st)) }

// Run drives the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if !s.notifier.Enabled() {
		// Nothing can ever mark the state dirty.
		s.logger.InfoContext(ctx, "state channel sync disabled")
		return nil
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.setState(StateIdle)

	s.logger.InfoContext(ctx, "state channel sync started",
		"address", s.signer.Address(),
		"interval", s.cfg.Interval.String(),
	)

	for {
		s.setState(StateWaiting)
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "state channel sync stopped", "last_accepted", s.LastAcceptedHash().String())
			return nil
		case <-ticker.C:
		case <-s.notifier.Wake():
		}
		s.cycle(ctx)
		s.setState(StateIdle)
	}
}

// cycle runs one Deciding/Submitting pass. Retries inside the cycle are
// bounded by the interval so they never overlap the next tick.
func (s *Service) cycle(ctx context.Context) {
	s.setState(StateDeciding)
	deadline := time.Now().Add(s.cfg.Interval)

	if !s.reconciled {
		if err := s.reconcile(ctx, "startup", nil); err != nil {
			s.logger.WarnContext(ctx, "chain head unavailable, will retry", "error", err)
			return
		}
	}

	if s.pending == nil {
		if !s.notifier.take() {
			return
		}
		if err := s.prepare(ctx); err != nil {
			if errors.Is(err, errAlreadyRejected) {
				s.logger.WarnContext(ctx, "state unchanged since rejection, waiting for a change", "error", err)
				return
			}
			s.logger.ErrorContext(ctx, "failed to build snapshot", "error", err)
			s.notifier.rearm()
			return
		}
	}

	s.setState(StateSubmitting)
	s.submit(ctx, deadline, true)
}

// prepare captures the store and seals a new pending envelope onto the head.
func (s *Service) prepare(ctx context.Context) error {
	gen := s.notifier.Generation()

	snap, err := snapshot.Capture(ctx, s.view, s.cfg.BusinessName, s.cfg.MaxFingerprints)
	if err != nil {
		s.recordCycleError(ctx, "capture")
		return fmt.Errorf("capture: %w", err)
	}
	encoded, err := snapshot.Encode(snap)
	if err != nil {
		s.recordCycleError(ctx, "encode")
		return fmt.Errorf("encode: %w", err)
	}
	env, err := chain.Seal(s.signer, s.LastAcceptedHash(), encoded)
	if err != nil {
		s.recordCycleError(ctx, "sign")
		return fmt.Errorf("seal: %w", err)
	}
	if r := s.rejected; r != nil && env.Hash() == r.hash {
		return fmt.Errorf("%w: %s (generation %d)", errAlreadyRejected, r.hash, r.generation)
	}

	s.pending = &pending{env: env, generation: gen}
	s.logger.InfoContext(ctx, "captured state",
		"hash", env.Hash().String(),
		"previous", env.PreviousHash.String(),
		"orders", snap.TotalOrders,
		"delivered", snap.DeliveredOrders,
		"fingerprints", len(snap.Fingerprints),
	)
	return nil
}

// submit sends the pending envelope, retrying retryable outcomes with the
// same bytes until deadline. rebuild allows one rebuild after a chain
// mismatch.
func (s *Service) submit(ctx context.Context, deadline time.Time, rebuild bool) {
	p := s.pending
	params := retry.BackoffParams{
		Channel:      s.signer.Address(),
		EnvelopeHash: p.env.Hash().String(),
	}
	plan := retry.PlanWithin(params, s.cfg.Retry, time.Until(deadline))

	var out network.Outcome
	for i, wait := range plan {
		if err := retry.Sleep(ctx, wait); err != nil {
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		out = s.attempt(ctx, p.env, i)
		if !out.Retryable() || ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		// Shutting down: the envelope may or may not have landed. The next
		// start reconciles from the node.
		return
	}

	switch out.Kind {
	case network.Accepted:
		s.accept(ctx, p, out.Ordinal)

	case network.TransientFailure, network.AmbiguousFailure:
		s.logger.WarnContext(ctx, "snapshot not confirmed, keeping envelope",
			"hash", p.env.Hash().String(),
			"outcome", out.Kind.String(),
			"attempts", len(plan),
			"error", out.Err,
		)
		s.notifier.rearm()

	case network.Rejected:
		s.pending = nil
		if out.Reason != network.ReasonChainMismatch {
			s.logger.ErrorContext(ctx, "snapshot rejected",
				"alert", true,
				"hash", p.env.Hash().String(),
				"reason", out.Reason.String(),
				"status", out.Status,
				"error", out.Err,
			)
			// The flag stays clear unless state changed after capture.
			s.rejected = &rejection{hash: p.env.Hash(), generation: p.generation}
			s.notifier.settle(p.generation)
			return
		}

		s.logger.WarnContext(ctx, "chain mismatch",
			"hash", p.env.Hash().String(),
			"previous", p.env.PreviousHash.String(),
		)
		if !rebuild {
			s.reconciled = false
			s.notifier.rearm()
			return
		}
		if err := s.reconcile(ctx, "chain_mismatch", out.RemoteHash); err != nil {
			s.logger.WarnContext(ctx, "chain head unavailable, will retry", "error", err)
			s.reconciled = false
			s.notifier.rearm()
			return
		}
		if err := s.prepare(ctx); err != nil {
			if errors.Is(err, errAlreadyRejected) {
				s.logger.WarnContext(ctx, "rebuilt snapshot was already rejected", "error", err)
				return
			}
			s.logger.ErrorContext(ctx, "failed to rebuild snapshot", "error", err)
			s.notifier.rearm()
			return
		}
		s.submit(ctx, deadline, false)
	}
}

func (s *Service) attempt(ctx context.Context, env *chain.Envelope, n int) network.Outcome {
	if s.obs != nil {
		var span trace.Span
		ctx, span = s.obs.StartSpan(ctx, "statesync.submit",
			attribute.String("hash", env.Hash().String()),
			attribute.Int("attempt", n),
		)
		defer span.End()
	}

	start := time.Now()
	out := s.client.Submit(ctx, s.signer.Address(), env)
	if s.obs != nil {
		s.obs.RecordSubmission(ctx, out.Kind.String(), out.Reason.String(), time.Since(start))
	}
	return out
}

func (s *Service) accept(ctx context.Context, p *pending, ordinal *uint64) {
	hash := p.env.Hash()
	s.head.Store(&hash)
	s.pending = nil
	s.notifier.settle(p.generation)

	attrs := []any{"hash", hash.String(), "previous", p.env.PreviousHash.String()}
	if ordinal != nil {
		attrs = append(attrs, "ordinal", *ordinal)
	}
	s.logger.InfoContext(ctx, "snapshot accepted", attrs...)

	if s.journal != nil {
		if err := s.journal.Append(ctx, p.env, ordinal); err != nil {
			s.logger.ErrorContext(ctx, "failed to journal envelope", "hash", hash.String(), "error", err)
		}
	}
	if s.archive != nil {
		actx, cancel := context.WithTimeout(ctx, s.archiveTimeout)
		defer cancel()
		if err := s.archive.Archive(actx, p.env, ordinal); err != nil {
			s.logger.ErrorContext(ctx, "failed to archive envelope", "hash", hash.String(), "error", err)
		}
	}
}

// reconcile replaces the head with the node's view. hint, when set, is the
// head the node already reported and saves a round trip.
func (s *Service) reconcile(ctx context.Context, cause string, hint *chain.Hash) error {
	var head chain.Hash
	if hint != nil {
		head = *hint
	} else {
		remote, err := s.client.LatestSnapshot(ctx, s.signer.Address())
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		head = remote.Hash
	}

	prev := s.LastAcceptedHash()
	s.head.Store(&head)
	s.reconciled = true
	if s.obs != nil {
		s.obs.RecordReconciliation(ctx, cause)
	}
	if s.journal != nil {
		if err := s.journal.Checkpoint(ctx, head, cause); err != nil {
			s.logger.ErrorContext(ctx, "failed to journal checkpoint", "head", head.String(), "error", err)
		}
	}
	s.logger.InfoContext(ctx, "chain head reconciled",
		"cause", cause,
		"head", head.String(),
		"was", prev.String(),
	)
	return nil
}

func (s *Service) recordCycleError(ctx context.Context, stage string) {
	if s.obs != nil {
		s.obs.RecordCycleError(ctx, stage)
	}
}
