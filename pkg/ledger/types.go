package ledger

import (
	"context"
	"time"
)

// EventKind distinguishes ledger record types.
type EventKind string

const (
	// EventRequest is a settled client request.
	EventRequest EventKind = "request"

	// EventRejection is a request refused before dispatch (wallet, policy,
	// security, rate limit).
	EventRejection EventKind = "rejection"

	// EventWalletReset marks a wallet period reset.
	EventWalletReset EventKind = "wallet_reset"

	// EventTransfer marks an approved wallet transfer.
	EventTransfer EventKind = "transfer"
)

// Record is one entry in a tenant's audit chain.
type Record struct {
	// Sequence is dense and monotonic per tenant, starting at 1.
	Sequence int64 `json:"sequence"`

	Tenant        string    `json:"tenant"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Kind          EventKind `json:"kind"`

	Actor      string `json:"actor,omitempty"`
	FeatureTag string `json:"feature_tag,omitempty"`

	ModelRequested string `json:"model_requested,omitempty"`
	ModelUsed      string `json:"model_used,omitempty"`
	ProviderUsed   string `json:"provider_used,omitempty"`
	RoutingReason  string `json:"routing_reason,omitempty"`

	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	LatencyMS    int64   `json:"latency_ms,omitempty"`

	CacheHit        bool    `json:"cache_hit,omitempty"`
	CacheSimilarity float64 `json:"cache_similarity,omitempty"`

	PolicyActions []string `json:"policy_actions,omitempty"`
	FinishReason  string   `json:"finish_reason,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`

	// FailoverCount is the number of connector advances within the request.
	FailoverCount int `json:"failover_count,omitempty"`

	// ExperimentArm tags records produced under an experiment rule.
	ExperimentArm string `json:"experiment_arm,omitempty"`

	// DryRunRules lists rules that matched in dry-run mode without
	// affecting dispatch.
	DryRunRules []string `json:"dry_run_rules,omitempty"`

	// PrevHash is the hash of the predecessor record; empty for sequence 1.
	PrevHash string `json:"prev_hash"`

	// Hash covers PrevHash and the record content.
	Hash string `json:"hash"`
}

// Storage persists ledger records. Implementations need not compute
// sequence or hashes; the recorder does that before Append.
type Storage interface {
	// Append persists one record.
	Append(ctx context.Context, rec *Record) error

	// Tail returns the last record for a tenant, or nil when the chain is
	// empty. Used to restore chain state at startup.
	Tail(ctx context.Context, tenant string) (*Record, error)

	// List returns records for a tenant in sequence order, bounded by limit.
	// limit <= 0 means no bound.
	List(ctx context.Context, tenant string, limit int) ([]*Record, error)

	// Close releases storage resources.
	Close() error
}
