package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config contains configuration for the Recorder.
type Config struct {
	// AsyncBuffer is the size of the async write channel.
	AsyncBuffer int

	// WriteTimeout bounds one storage write.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// chainState tracks the head of one tenant's chain.
type chainState struct {
	mu       sync.Mutex
	sequence int64
	lastHash string
	loaded   bool
}

// Recorder assigns sequence numbers and hashes synchronously, then writes
// records to storage from a background worker so the request path never
// blocks on ledger persistence.
type Recorder struct {
	storage Storage
	config  Config
	logger  *slog.Logger

	mu     sync.Mutex
	chains map[string]*chainState

	recordChan chan *Record
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewRecorder creates a ledger recorder and starts its write worker.
func NewRecorder(storage Storage, config Config) *Recorder {
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		logger:     logger.With("component", "ledger.recorder"),
		chains:     make(map[string]*chainState),
		recordChan: make(chan *Record, config.AsyncBuffer),
		done:       make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Append seals a record into its tenant's chain and enqueues it for
// writing. Sequence and hash assignment happen here, under the tenant's
// chain lock, so concurrent requests cannot interleave or leave gaps.
func (r *Recorder) Append(ctx context.Context, rec *Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	chain := r.chain(rec.Tenant)

	chain.mu.Lock()
	if !chain.loaded {
		if err := r.loadChain(ctx, rec.Tenant, chain); err != nil {
			chain.mu.Unlock()
			return err
		}
	}

	chain.sequence++
	rec.Sequence = chain.sequence
	rec.PrevHash = chain.lastHash
	rec.Hash = HashRecord(rec)
	chain.lastHash = rec.Hash
	chain.mu.Unlock()

	select {
	case r.recordChan <- rec:
	case <-r.done:
		// Shutting down: write inline so the sealed chain head is not lost.
		r.write(rec)
	default:
		// Queue full. The chain head has already advanced, so dropping the
		// record would leave a gap; write inline and absorb the latency.
		r.logger.Warn("ledger queue full, writing inline",
			"tenant", rec.Tenant,
			"sequence", rec.Sequence,
		)
		r.write(rec)
	}

	return nil
}

// chain returns the chain state for a tenant, creating it if needed.
func (r *Recorder) chain(tenant string) *chainState {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain, ok := r.chains[tenant]
	if !ok {
		chain = &chainState{}
		r.chains[tenant] = chain
	}
	return chain
}

// loadChain restores the chain head from storage. Caller holds chain.mu.
func (r *Recorder) loadChain(ctx context.Context, tenant string, chain *chainState) error {
	tail, err := r.storage.Tail(ctx, tenant)
	if err != nil {
		return err
	}
	if tail != nil {
		chain.sequence = tail.Sequence
		chain.lastHash = tail.Hash
	}
	chain.loaded = true
	return nil
}

// Close drains the queue and stops the worker.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.recordChan:
			r.write(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.recordChan:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.storage.Append(ctx, rec); err != nil {
		r.logger.Error("failed to store ledger record",
			"tenant", rec.Tenant,
			"sequence", rec.Sequence,
			"correlation_id", rec.CorrelationID,
			"error", err,
		)
	}
}

// List returns a tenant's records in sequence order.
func (r *Recorder) List(ctx context.Context, tenant string, limit int) ([]*Record, error) {
	return r.storage.List(ctx, tenant, limit)
}

// RecordWalletReset appends a wallet period reset entry.
func (r *Recorder) RecordWalletReset(ctx context.Context, tenant, walletID string, previousSpent float64) {
	err := r.Append(ctx, &Record{
		Tenant:        tenant,
		Kind:          EventWalletReset,
		CorrelationID: "wallet-reset:" + walletID,
		Cost:          previousSpent,
	})
	if err != nil {
		r.logger.Error("failed to record wallet reset",
			"tenant", tenant,
			"wallet_id", walletID,
			"error", err,
		)
	}
}
