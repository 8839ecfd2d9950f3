package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service exposes the budget operations used by the request path.
//
// All chain mutations go through Store.UpdateChain, which applies them
// atomically across the wallet and its ancestors. Reservation handles are
// tracked in memory; a handle not settled within the janitor horizon is
// released so crashes between reserve and settle cannot strand budget.
type Service struct {
	store  Store
	logger *slog.Logger

	txTimeout time.Duration
	notifier  ThresholdNotifier

	mu           sync.Mutex
	reservations map[string]*Reservation
}

// ServiceConfig configures the wallet service.
type ServiceConfig struct {
	// TransactionTimeout bounds one store mutation.
	TransactionTimeout time.Duration

	// Notifier receives soft-threshold events. Nil disables notification.
	Notifier ThresholdNotifier

	Logger *slog.Logger
}

// NewService creates a wallet service over the given store.
func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.TransactionTimeout == 0 {
		cfg.TransactionTimeout = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		logger:       logger.With("component", "wallet"),
		txTimeout:    cfg.TransactionTimeout,
		notifier:     cfg.Notifier,
		reservations: make(map[string]*Reservation),
	}
}

// Check reports whether the effective wallet chain has room for cost.
// Returns an *InsufficientError naming the constraining wallet otherwise.
func (s *Service) Check(ctx context.Context, walletID string, cost float64) error {
	w, err := s.store.Get(ctx, walletID)
	if err != nil {
		return err
	}

	for _, id := range w.Path {
		node, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if node.Available() < cost {
			return &InsufficientError{
				WalletID:  node.ID,
				Requested: cost,
				Available: node.Available(),
			}
		}
	}
	return nil
}

// Reserve atomically increments the in-flight amount on the wallet and all
// ancestors. If any node lacks room, nothing is persisted.
func (s *Service) Reserve(ctx context.Context, walletID string, amount float64) (*Reservation, error) {
	if amount < 0 {
		return nil, fmt.Errorf("reserve amount must not be negative")
	}

	leaf, err := s.store.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err = s.store.UpdateChain(ctx, leaf.Path, func(chain map[string]*Wallet) error {
		for _, id := range leaf.Path {
			node := chain[id]
			if node.Available() < amount {
				return &InsufficientError{
					WalletID:  node.ID,
					Requested: amount,
					Available: node.Available(),
				}
			}
		}
		for _, node := range chain {
			node.Reserved += amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Reservation{
		ID:        uuid.New().String(),
		WalletID:  walletID,
		Tenant:    leaf.Tenant,
		Chain:     append([]string(nil), leaf.Path...),
		Amount:    amount,
		CreatedAt: nowFunc(),
	}

	s.mu.Lock()
	s.reservations[res.ID] = res
	s.mu.Unlock()

	return res, nil
}

// Commit settles a reservation: actual moves from reserved to spent on the
// wallet and each ancestor, and any over-reservation is returned. The
// settled amount may exceed the reservation for in-flight streams; the
// overage is applied, never rejected, because the upstream already billed it.
func (s *Service) Commit(ctx context.Context, handle *Reservation, actual float64) error {
	if actual < 0 {
		return fmt.Errorf("commit amount must not be negative")
	}

	res, err := s.takeReservation(handle)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var events []ThresholdEvent
	err = s.store.UpdateChain(ctx, res.Chain, func(chain map[string]*Wallet) error {
		events = events[:0]
		for _, node := range chain {
			node.Reserved -= res.Amount
			if node.Reserved < 0 {
				node.Reserved = 0
			}
			node.Spent += actual
			events = append(events, crossedThresholds(node)...)
		}
		return nil
	})
	if err != nil {
		// Leave the handle settled; retrying a failed commit would risk
		// double-billing. The discrepancy surfaces in reconciliation.
		s.logger.Error("wallet commit failed",
			"reservation_id", res.ID,
			"wallet_id", res.WalletID,
			"actual", actual,
			"error", err,
		)
		return err
	}

	s.emit(events)
	return nil
}

// Release returns the full reservation; used when a request consumed nothing.
func (s *Service) Release(ctx context.Context, handle *Reservation) error {
	res, err := s.takeReservation(handle)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	return s.store.UpdateChain(ctx, res.Chain, func(chain map[string]*Wallet) error {
		for _, node := range chain {
			node.Reserved -= res.Amount
			if node.Reserved < 0 {
				node.Reserved = 0
			}
		}
		return nil
	})
}

// Transfer moves budget between sibling wallets, conditional on an approver
// identity. The movement is recorded as an immutable transfer entry.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount float64, approver string) error {
	if approver == "" {
		return fmt.Errorf("transfer requires an approver")
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	from, err := s.store.Get(ctx, fromID)
	if err != nil {
		return err
	}
	to, err := s.store.Get(ctx, toID)
	if err != nil {
		return err
	}
	if from.Tenant != to.Tenant {
		return fmt.Errorf("transfers cannot cross tenants")
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	// Siblings are not a root-first chain; a deterministic order keeps
	// concurrent opposite transfers deadlock-free.
	ids := []string{fromID, toID}
	if toID < fromID {
		ids = []string{toID, fromID}
	}
	err = s.store.UpdateChain(ctx, ids, func(chain map[string]*Wallet) error {
		src := chain[fromID]
		if src.HardLimit-amount < src.Spent+src.Reserved {
			return &InsufficientError{
				WalletID:  fromID,
				Requested: amount,
				Available: src.HardLimit - src.Spent - src.Reserved,
			}
		}
		src.HardLimit -= amount
		chain[toID].HardLimit += amount
		return nil
	})
	if err != nil {
		return err
	}

	return s.store.AppendTransfer(ctx, TransferRecord{
		ID:         uuid.New().String(),
		Tenant:     from.Tenant,
		FromWallet: fromID,
		ToWallet:   toID,
		Amount:     amount,
		Approver:   approver,
		At:         nowFunc(),
	})
}

// Balance reports the effective state of a wallet chain. The effective
// available amount is the minimum headroom along the chain to root.
func (s *Service) Balance(ctx context.Context, walletID string) (*Balance, error) {
	w, err := s.store.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}

	effective := w.Available()
	for _, id := range w.Path {
		node, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if node.Available() < effective {
			effective = node.Available()
		}
	}

	return &Balance{
		WalletID:           w.ID,
		HardLimit:          w.HardLimit,
		Overdraft:          w.Overdraft,
		Spent:              w.Spent,
		Reserved:           w.Reserved,
		EffectiveAvailable: effective,
		Utilization:        w.Utilization(),
	}, nil
}

// Get returns a copy of the wallet.
func (s *Service) Get(ctx context.Context, walletID string) (*Wallet, error) {
	return s.store.Get(ctx, walletID)
}

// Create inserts a new wallet node.
func (s *Service) Create(ctx context.Context, w *Wallet) error {
	return s.store.Create(ctx, w)
}

// takeReservation removes and returns a live reservation handle.
func (s *Service) takeReservation(handle *Reservation) (*Reservation, error) {
	if handle == nil {
		return nil, ErrReservationNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[handle.ID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	delete(s.reservations, handle.ID)
	return res, nil
}

// crossedThresholds latches newly crossed soft thresholds on the node and
// returns the events to emit. Thresholds are edge-triggered per period.
func crossedThresholds(node *Wallet) []ThresholdEvent {
	if len(node.SoftThresholds) == 0 {
		return nil
	}

	util := node.Utilization()
	var events []ThresholdEvent
	for _, threshold := range node.SoftThresholds {
		if util >= threshold && !node.NotifiedThresholds[threshold] {
			if node.NotifiedThresholds == nil {
				node.NotifiedThresholds = make(map[float64]bool)
			}
			node.NotifiedThresholds[threshold] = true
			events = append(events, ThresholdEvent{
				Tenant:      node.Tenant,
				WalletID:    node.ID,
				Threshold:   threshold,
				Utilization: util,
				At:          nowFunc(),
			})
		}
	}
	return events
}

func (s *Service) emit(events []ThresholdEvent) {
	if s.notifier == nil {
		return
	}
	for _, event := range events {
		s.notifier.NotifyThreshold(event)
		s.logger.Info("wallet soft threshold crossed",
			"tenant", event.Tenant,
			"wallet_id", event.WalletID,
			"threshold", event.Threshold,
			"utilization", event.Utilization,
		)
	}
}
