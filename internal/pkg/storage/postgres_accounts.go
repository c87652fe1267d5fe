package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/config"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/models"
)

// PostgresAccountStore persists accounts (credentials, passcode, balance) and
// durable session snapshots. The core only writes the fields the auth and
// balance flows are allowed to touch; accounts are created and edited
// elsewhere.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(cfg *config.Postgres) (*PostgresAccountStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresAccountStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("PostgreSQL account store initialized")
	return s, nil
}

func (s *PostgresAccountStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id VARCHAR(100) PRIMARY KEY,
		username VARCHAR(200) NOT NULL,
		password VARCHAR(200) NOT NULL,
		passcode VARCHAR(10) NOT NULL DEFAULT '',
		proxy_url VARCHAR(500) NOT NULL DEFAULT '',
		user_agent VARCHAR(500) NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		credit DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		account_id VARCHAR(100) PRIMARY KEY REFERENCES accounts(id),
		external_user_id VARCHAR(200) NOT NULL,
		login_ts_ms BIGINT NOT NULL,
		cookie_header TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *PostgresAccountStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, passcode, proxy_url, user_agent, enabled, balance, credit, updated_at
		FROM accounts WHERE id = $1`, id)

	var a models.Account
	err := row.Scan(&a.ID, &a.Username, &a.Password, &a.Passcode, &a.ProxyURL,
		&a.UserAgent, &a.Enabled, &a.Balance, &a.Credit, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresAccountStore) ListEnabledAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, passcode, proxy_url, user_agent, enabled, balance, credit, updated_at
		FROM accounts WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.Password, &a.Passcode, &a.ProxyURL,
			&a.UserAgent, &a.Enabled, &a.Balance, &a.Credit, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateCredentials is written only after a verifying re-login with the new
// credentials has succeeded.
func (s *PostgresAccountStore) UpdateCredentials(ctx context.Context, id, username, password string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET username = $2, password = $3, updated_at = NOW() WHERE id = $1`,
		id, username, password)
	if err != nil {
		return fmt.Errorf("update credentials for %s: %w", id, err)
	}
	return nil
}

func (s *PostgresAccountStore) UpdatePasscode(ctx context.Context, id, passcode string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET passcode = $2, updated_at = NOW() WHERE id = $1`, id, passcode)
	if err != nil {
		return fmt.Errorf("update passcode for %s: %w", id, err)
	}
	return nil
}

func (s *PostgresAccountStore) UpdateBalance(ctx context.Context, id string, balance, credit float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET balance = $2, credit = $3, updated_at = NOW() WHERE id = $1`,
		id, balance, credit)
	if err != nil {
		return fmt.Errorf("update balance for %s: %w", id, err)
	}
	return nil
}

func (s *PostgresAccountStore) SaveSessionSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (account_id, external_user_id, login_ts_ms, cookie_header, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			external_user_id = EXCLUDED.external_user_id,
			login_ts_ms = EXCLUDED.login_ts_ms,
			cookie_header = EXCLUDED.cookie_header,
			updated_at = NOW()`,
		snap.AccountID, snap.ExternalUserID, snap.LoginTimestampMs, snap.CookieHeader)
	if err != nil {
		return fmt.Errorf("save session snapshot for %s: %w", snap.AccountID, err)
	}
	return nil
}

func (s *PostgresAccountStore) LoadSessionSnapshots(ctx context.Context) ([]models.SessionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, external_user_id, login_ts_ms, cookie_header FROM session_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("load session snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.SessionSnapshot
	for rows.Next() {
		var snap models.SessionSnapshot
		if err := rows.Scan(&snap.AccountID, &snap.ExternalUserID, &snap.LoginTimestampMs, &snap.CookieHeader); err != nil {
			return nil, fmt.Errorf("scan session snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresAccountStore) DeleteSessionSnapshot(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("delete session snapshot for %s: %w", accountID, err)
	}
	return nil
}

func (s *PostgresAccountStore) Close() error {
	return s.db.Close()
}
