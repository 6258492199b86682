// Package postgres implements the storage contracts on PostgreSQL. Every
// atomic unit maps to one database transaction, which supplies the
// all-or-nothing multi-entity commit the operations rely on; unique-address
// semantics ride on primary-key conflicts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/registry"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/domain/subscription"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the registry tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS registry_records (
			address         TEXT PRIMARY KEY,
			authority       TEXT NOT NULL,
			total_signals   BIGINT NOT NULL,
			total_agents    BIGINT NOT NULL,
			signal_fee      BIGINT NOT NULL,
			created_at      BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_profiles (
			address           TEXT PRIMARY KEY,
			authority         TEXT NOT NULL,
			name              TEXT NOT NULL,
			total_signals     BIGINT NOT NULL,
			correct_signals   BIGINT NOT NULL,
			incorrect_signals BIGINT NOT NULL,
			expired_signals   BIGINT NOT NULL,
			accuracy_bps      INT NOT NULL,
			reputation_score  BIGINT NOT NULL,
			created_at        BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			address          TEXT PRIMARY KEY,
			agent            TEXT NOT NULL,
			signal_index     BIGINT NOT NULL,
			asset            TEXT NOT NULL,
			direction        TEXT NOT NULL,
			confidence       INT NOT NULL,
			entry_price      BIGINT NOT NULL,
			target_price     BIGINT NOT NULL,
			stop_loss        BIGINT NOT NULL,
			time_horizon     BIGINT NOT NULL,
			reasoning_hash   BYTEA NOT NULL,
			created_at       BIGINT NOT NULL,
			resolved         BOOLEAN NOT NULL,
			outcome          TEXT NOT NULL,
			resolution_price BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS signals_agent_idx ON signals (agent, signal_index)`,
		`CREATE INDEX IF NOT EXISTS signals_unresolved_idx ON signals (time_horizon) WHERE NOT resolved`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			address       TEXT PRIMARY KEY,
			subscriber    TEXT NOT NULL,
			agent         TEXT NOT NULL,
			fee_paid      BIGINT NOT NULL,
			subscribed_at BIGINT NOT NULL,
			expires_at    BIGINT NOT NULL,
			active        BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS consumptions (
			address     TEXT PRIMARY KEY,
			subscriber  TEXT NOT NULL,
			signal      TEXT NOT NULL,
			consumed_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Atomic runs fn inside one database transaction.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlTx{ctx: ctx, tx: dbTx}); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ storage.Tx = (*sqlTx)(nil)

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrAlreadyExists
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- Registry ---------------------------------------------------------------

func (t *sqlTx) CreateRegistry(addr identity.Address, rec registry.Record) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO registry_records (address, authority, total_signals, total_agents, signal_fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, addr.String(), rec.Authority.String(), int64(rec.TotalSignals), int64(rec.TotalAgents), int64(rec.SignalFee), rec.CreatedAt)
	return translateError(err)
}

func (t *sqlTx) GetRegistry(addr identity.Address) (registry.Record, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT address, authority, total_signals, total_agents, signal_fee, created_at
		FROM registry_records WHERE address = $1
	`, addr.String())
	return scanRegistry(row)
}

func (t *sqlTx) PutRegistry(addr identity.Address, rec registry.Record) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE registry_records
		SET authority = $2, total_signals = $3, total_agents = $4, signal_fee = $5
		WHERE address = $1
	`, addr.String(), rec.Authority.String(), int64(rec.TotalSignals), int64(rec.TotalAgents), int64(rec.SignalFee))
	if err != nil {
		return translateError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- AgentProfile -----------------------------------------------------------

func (t *sqlTx) CreateAgentProfile(addr identity.Address, prof agent.Profile) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO agent_profiles (address, authority, name, total_signals, correct_signals,
			incorrect_signals, expired_signals, accuracy_bps, reputation_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, addr.String(), prof.Authority.String(), prof.Name, int64(prof.TotalSignals),
		int64(prof.CorrectSignals), int64(prof.IncorrectSignals), int64(prof.ExpiredSignals),
		int64(prof.AccuracyBps), int64(prof.ReputationScore), prof.CreatedAt)
	return translateError(err)
}

func (t *sqlTx) GetAgentProfile(addr identity.Address) (agent.Profile, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT address, authority, name, total_signals, correct_signals, incorrect_signals,
			expired_signals, accuracy_bps, reputation_score, created_at
		FROM agent_profiles WHERE address = $1
	`, addr.String())
	return scanProfile(row)
}

func (t *sqlTx) PutAgentProfile(addr identity.Address, prof agent.Profile) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE agent_profiles
		SET name = $2, total_signals = $3, correct_signals = $4, incorrect_signals = $5,
			expired_signals = $6, accuracy_bps = $7, reputation_score = $8
		WHERE address = $1
	`, addr.String(), prof.Name, int64(prof.TotalSignals), int64(prof.CorrectSignals),
		int64(prof.IncorrectSignals), int64(prof.ExpiredSignals), int64(prof.AccuracyBps),
		int64(prof.ReputationScore))
	if err != nil {
		return translateError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- Signal -----------------------------------------------------------------

func (t *sqlTx) CreateSignal(addr identity.Address, rec signal.Record) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO signals (address, agent, signal_index, asset, direction, confidence,
			entry_price, target_price, stop_loss, time_horizon, reasoning_hash, created_at,
			resolved, outcome, resolution_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, addr.String(), rec.Agent.String(), int64(rec.Index), rec.Asset, rec.Direction.String(),
		int64(rec.Confidence), int64(rec.EntryPrice), int64(rec.TargetPrice), int64(rec.StopLoss),
		rec.TimeHorizon, rec.ReasoningHash[:], rec.CreatedAt, rec.Resolved, rec.Outcome.String(),
		int64(rec.ResolutionPrice))
	return translateError(err)
}

func (t *sqlTx) GetSignal(addr identity.Address) (signal.Record, error) {
	row := t.tx.QueryRowContext(t.ctx, signalSelect+` WHERE address = $1`, addr.String())
	return scanSignal(row)
}

func (t *sqlTx) PutSignal(addr identity.Address, rec signal.Record) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE signals
		SET resolved = $2, outcome = $3, resolution_price = $4
		WHERE address = $1
	`, addr.String(), rec.Resolved, rec.Outcome.String(), int64(rec.ResolutionPrice))
	if err != nil {
		return translateError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- Subscription / Consumption ---------------------------------------------

func (t *sqlTx) CreateSubscription(addr identity.Address, rec subscription.Record) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO subscriptions (address, subscriber, agent, fee_paid, subscribed_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, addr.String(), rec.Subscriber.String(), rec.Agent.String(), int64(rec.FeePaid),
		rec.SubscribedAt, rec.ExpiresAt, rec.Active)
	return translateError(err)
}

func (t *sqlTx) GetSubscription(addr identity.Address) (subscription.Record, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT address, subscriber, agent, fee_paid, subscribed_at, expires_at, active
		FROM subscriptions WHERE address = $1
	`, addr.String())
	return scanSubscription(row)
}

func (t *sqlTx) CreateConsumption(addr identity.Address, rec subscription.Consumption) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO consumptions (address, subscriber, signal, consumed_at)
		VALUES ($1, $2, $3, $4)
	`, addr.String(), rec.Subscriber.String(), rec.Signal.String(), rec.ConsumedAt)
	return translateError(err)
}

func (t *sqlTx) GetConsumption(addr identity.Address) (subscription.Consumption, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT address, subscriber, signal, consumed_at
		FROM consumptions WHERE address = $1
	`, addr.String())
	return scanConsumption(row)
}

// --- Reads ------------------------------------------------------------------

func (s *Store) GetRegistry(ctx context.Context, addr identity.Address) (registry.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, authority, total_signals, total_agents, signal_fee, created_at
		FROM registry_records WHERE address = $1
	`, addr.String())
	return scanRegistry(row)
}

func (s *Store) GetAgentProfile(ctx context.Context, addr identity.Address) (agent.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, authority, name, total_signals, correct_signals, incorrect_signals,
			expired_signals, accuracy_bps, reputation_score, created_at
		FROM agent_profiles WHERE address = $1
	`, addr.String())
	return scanProfile(row)
}

func (s *Store) GetSignal(ctx context.Context, addr identity.Address) (signal.Record, error) {
	row := s.db.QueryRowContext(ctx, signalSelect+` WHERE address = $1`, addr.String())
	return scanSignal(row)
}

func (s *Store) GetSubscription(ctx context.Context, addr identity.Address) (subscription.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, subscriber, agent, fee_paid, subscribed_at, expires_at, active
		FROM subscriptions WHERE address = $1
	`, addr.String())
	return scanSubscription(row)
}

func (s *Store) GetConsumption(ctx context.Context, addr identity.Address) (subscription.Consumption, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, subscriber, signal, consumed_at
		FROM consumptions WHERE address = $1
	`, addr.String())
	return scanConsumption(row)
}

func (s *Store) ListAgentProfiles(ctx context.Context) ([]agent.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, authority, name, total_signals, correct_signals, incorrect_signals,
			expired_signals, accuracy_bps, reputation_score, created_at
		FROM agent_profiles
		ORDER BY reputation_score DESC, created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []agent.Profile
	for rows.Next() {
		prof, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, prof)
	}
	return result, rows.Err()
}

func (s *Store) ListSignalsByAgent(ctx context.Context, agentID identity.Address) ([]signal.Record, error) {
	rows, err := s.db.QueryContext(ctx, signalSelect+` WHERE agent = $1 ORDER BY signal_index`, agentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSignals(rows)
}

func (s *Store) ListUnresolvedBefore(ctx context.Context, now int64) ([]signal.Record, error) {
	rows, err := s.db.QueryContext(ctx, signalSelect+` WHERE NOT resolved AND time_horizon <= $1 ORDER BY signal_index`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSignals(rows)
}

// --- Scan helpers -----------------------------------------------------------

const signalSelect = `
	SELECT address, agent, signal_index, asset, direction, confidence, entry_price,
		target_price, stop_loss, time_horizon, reasoning_hash, created_at, resolved,
		outcome, resolution_price
	FROM signals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(raw string, dst *identity.Address) error {
	addr, err := identity.Parse(raw)
	if err != nil {
		return err
	}
	*dst = addr
	return nil
}

func scanRegistry(row rowScanner) (registry.Record, error) {
	var (
		rec                    registry.Record
		addrRaw, authorityRaw  string
		totalSignals           int64
		totalAgents, signalFee int64
	)
	if err := row.Scan(&addrRaw, &authorityRaw, &totalSignals, &totalAgents, &signalFee, &rec.CreatedAt); err != nil {
		return registry.Record{}, translateError(err)
	}
	if err := scanAddress(addrRaw, &rec.Address); err != nil {
		return registry.Record{}, err
	}
	if err := scanAddress(authorityRaw, &rec.Authority); err != nil {
		return registry.Record{}, err
	}
	rec.TotalSignals = uint64(totalSignals)
	rec.TotalAgents = uint64(totalAgents)
	rec.SignalFee = uint64(signalFee)
	return rec, nil
}

func scanProfile(row rowScanner) (agent.Profile, error) {
	var (
		prof                  agent.Profile
		addrRaw, authorityRaw string
		total, correct        int64
		incorrect, expired    int64
		accuracy, reputation  int64
	)
	if err := row.Scan(&addrRaw, &authorityRaw, &prof.Name, &total, &correct, &incorrect,
		&expired, &accuracy, &reputation, &prof.CreatedAt); err != nil {
		return agent.Profile{}, translateError(err)
	}
	if err := scanAddress(addrRaw, &prof.Address); err != nil {
		return agent.Profile{}, err
	}
	if err := scanAddress(authorityRaw, &prof.Authority); err != nil {
		return agent.Profile{}, err
	}
	prof.TotalSignals = uint32(total)
	prof.CorrectSignals = uint32(correct)
	prof.IncorrectSignals = uint32(incorrect)
	prof.ExpiredSignals = uint32(expired)
	prof.AccuracyBps = uint16(accuracy)
	prof.ReputationScore = uint64(reputation)
	return prof, nil
}

func scanSignal(row rowScanner) (signal.Record, error) {
	var (
		rec                        signal.Record
		addrRaw, agentRaw          string
		directionRaw, outcomeRaw   string
		index, confidence          int64
		entry, target, stop, price int64
		hash                       []byte
	)
	if err := row.Scan(&addrRaw, &agentRaw, &index, &rec.Asset, &directionRaw, &confidence,
		&entry, &target, &stop, &rec.TimeHorizon, &hash, &rec.CreatedAt, &rec.Resolved,
		&outcomeRaw, &price); err != nil {
		return signal.Record{}, translateError(err)
	}
	if err := scanAddress(addrRaw, &rec.Address); err != nil {
		return signal.Record{}, err
	}
	if err := scanAddress(agentRaw, &rec.Agent); err != nil {
		return signal.Record{}, err
	}
	direction, err := signal.ParseDirection(directionRaw)
	if err != nil {
		return signal.Record{}, err
	}
	outcome, err := signal.ParseOutcome(outcomeRaw)
	if err != nil {
		return signal.Record{}, err
	}
	rec.Direction = direction
	rec.Outcome = outcome
	rec.Index = uint64(index)
	rec.Confidence = uint8(confidence)
	rec.EntryPrice = uint64(entry)
	rec.TargetPrice = uint64(target)
	rec.StopLoss = uint64(stop)
	rec.ResolutionPrice = uint64(price)
	copy(rec.ReasoningHash[:], hash)
	return rec, nil
}

func scanSubscription(row rowScanner) (subscription.Record, error) {
	var (
		rec                             subscription.Record
		addrRaw, subscriberRaw, agentRw string
		fee                             int64
	)
	if err := row.Scan(&addrRaw, &subscriberRaw, &agentRw, &fee, &rec.SubscribedAt,
		&rec.ExpiresAt, &rec.Active); err != nil {
		return subscription.Record{}, translateError(err)
	}
	if err := scanAddress(addrRaw, &rec.Address); err != nil {
		return subscription.Record{}, err
	}
	if err := scanAddress(subscriberRaw, &rec.Subscriber); err != nil {
		return subscription.Record{}, err
	}
	if err := scanAddress(agentRw, &rec.Agent); err != nil {
		return subscription.Record{}, err
	}
	rec.FeePaid = uint64(fee)
	return rec, nil
}

func scanConsumption(row rowScanner) (subscription.Consumption, error) {
	var (
		rec                             subscription.Consumption
		addrRaw, subscriberRaw, sigRaw string
	)
	if err := row.Scan(&addrRaw, &subscriberRaw, &sigRaw, &rec.ConsumedAt); err != nil {
		return subscription.Consumption{}, translateError(err)
	}
	if err := scanAddress(addrRaw, &rec.Address); err != nil {
		return subscription.Consumption{}, err
	}
	if err := scanAddress(subscriberRaw, &rec.Subscriber); err != nil {
		return subscription.Consumption{}, err
	}
	if err := scanAddress(sigRaw, &rec.Signal); err != nil {
		return subscription.Consumption{}, err
	}
	return rec, nil
}

func collectSignals(rows *sql.Rows) ([]signal.Record, error) {
	var result []signal.Record
	for rows.Next() {
		rec, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
