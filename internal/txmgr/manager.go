// Package txmgr implements the TransactionManager of spec.md §4.6:
// named-graph backup-and-restore transactions over a SPARQL endpoint. This
// generalizes the begin/mutate/commit/discard shape the pack's dgo-based
// stores use for native graph-database transactions (e.g. QuantumFlow's
// and the teacher's own dgo.Txn usage in internal/graph/client.go) onto
// the SPARQL HTTP surface the spec mandates, since dgo speaks DQL over
// gRPC rather than SPARQL over HTTP and so cannot itself be reused here.
package txmgr

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dereksmith/semem/internal/semerr"
)

// State is the lifecycle stage of a Transaction.
type State string

const (
	StateOpen        State = "open"
	StateCommitted    State = "committed"
	StateRolledBack   State = "rolled_back"
)

// Updater executes a raw SPARQL update. Implemented by *sparql.Client in
// production; tests supply a fake.
type Updater interface {
	Update(ctx context.Context, update string) error
}

// BackupChecker reports whether a named graph currently holds any triples.
// Implemented against a SPARQL `ASK { GRAPH <iri> { ?s ?p ?o } }` query in
// production.
type BackupChecker interface {
	GraphNonEmpty(ctx context.Context, graphIRI string) (bool, error)
}

// Invalidator is invoked after a successful rollback so the caller's
// query cache can be dropped, per spec.md §4.5/§4.6. Commit does not
// invoke it; the writer that committed invalidates its own cache.
type Invalidator interface {
	InvalidateAll()
}

// Transaction describes the currently open transaction, if any.
type Transaction struct {
	MainGraphIRI   string
	BackupGraphIRI string
	State          State
	StartTime      time.Time
}

// Manager enforces single-writer named-graph backup/restore transactions.
type Manager struct {
	mu           sync.Mutex
	updater      Updater
	checker      BackupChecker
	cache        Invalidator
	logger       *zap.Logger
	current      *Transaction
	backupSuffix string
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithBackupSuffix overrides the default "/__tx__backup" suffix appended to
// the main graph IRI to form the backup graph IRI, per spec.md §6.2.
func WithBackupSuffix(suffix string) Option {
	return func(m *Manager) { m.backupSuffix = suffix }
}

// New creates a Manager. checker may be nil, in which case stale-backup
// detection is skipped (useful for endpoints where GRAPH ASK is
// unavailable); production wiring should always supply one.
func New(updater Updater, checker BackupChecker, cache Invalidator, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		updater:      updater,
		checker:      checker,
		cache:        cache,
		logger:       logger.Named("txmgr"),
		backupSuffix: "/__tx__backup",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BackupIRIFor derives the sibling backup graph IRI for a main graph IRI.
func (m *Manager) BackupIRIFor(mainGraphIRI string) string {
	return mainGraphIRI + m.backupSuffix
}

// Begin opens a transaction over mainGraphIRI: COPY <main> TO <backup>,
// then marks state=open. Fails with TransactionBusy if another transaction
// is already open, or StaleBackup if the BackupChecker reports that the
// backup graph already holds triples, so a crashed-and-restarted process
// does not silently clobber a stale backup. Without a BackupChecker the
// stale-backup check is skipped.
func (m *Manager) Begin(ctx context.Context, mainGraphIRI string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.State == StateOpen {
		return nil, semerr.New(semerr.KindTransactionBusy, "a transaction is already open", nil)
	}

	backup := m.BackupIRIFor(mainGraphIRI)

	if m.checker != nil {
		stale, err := m.checker.GraphNonEmpty(ctx, backup)
		if err != nil {
			return nil, err
		}
		if stale {
			return nil, semerr.New(semerr.KindStaleBackup, "backup graph already exists: "+backup, nil)
		}
	}

	update := "COPY <" + mainGraphIRI + "> TO <" + backup + ">"
	if err := m.updater.Update(ctx, update); err != nil {
		return nil, err
	}

	tx := &Transaction{
		MainGraphIRI:   mainGraphIRI,
		BackupGraphIRI: backup,
		State:          StateOpen,
		StartTime:      time.Now(),
	}
	m.current = tx
	m.logger.Info("transaction opened", zap.String("main", mainGraphIRI), zap.String("backup", backup))

	cp := *tx
	return &cp, nil
}

// Commit closes the open transaction by dropping the backup graph.
func (m *Manager) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.State != StateOpen {
		return semerr.New(semerr.KindValidation, "no open transaction to commit", nil)
	}

	update := "DROP GRAPH <" + m.current.BackupGraphIRI + ">"
	if err := m.updater.Update(ctx, update); err != nil {
		return err
	}

	m.current.State = StateCommitted
	m.logger.Info("transaction committed", zap.String("main", m.current.MainGraphIRI))
	return nil
}

// Rollback restores the pre-begin graph state: MOVE <backup> TO <main>
// (atomic replace), then invalidates the cache. After Rollback returns
// successfully, the main graph's triple-set is identical to its state at
// Begin, regardless of any updates applied in between.
func (m *Manager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.State != StateOpen {
		return semerr.New(semerr.KindValidation, "no open transaction to roll back", nil)
	}

	update := "MOVE <" + m.current.BackupGraphIRI + "> TO <" + m.current.MainGraphIRI + ">"
	if err := m.updater.Update(ctx, update); err != nil {
		return err
	}

	m.current.State = StateRolledBack
	m.logger.Info("transaction rolled back", zap.String("main", m.current.MainGraphIRI))

	if m.cache != nil {
		m.cache.InvalidateAll()
	}
	return nil
}

// Current returns a copy of the most recent transaction, whether open,
// committed or rolled back, or nil if Begin has never succeeded. Use
// IsOpen to ask whether a transaction is in flight.
func (m *Manager) Current() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// IsOpen reports whether a transaction is currently open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.State == StateOpen
}
