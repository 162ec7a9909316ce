package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"auth-security/internal/config"
	"auth-security/internal/util"
)

// Schema is applied by EnsureSchema. Rows of one user share a partition per
// bucket and are clustered by time, with a timeuuid keeping insertion order
// among equal timestamps.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS security_events (
		event_bucket int,
		user_id text,
		created_at timestamp,
		seq timeuuid,
		event_id text,
		event_type text,
		ip_address text,
		device_info text,
		metadata map<text, text>,
		biometry_used boolean,
		is_suspicious boolean,
		PRIMARY KEY ((event_bucket, user_id), created_at, seq)
	) WITH CLUSTERING ORDER BY (created_at ASC, seq ASC)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id text PRIMARY KEY,
		username text,
		password_hash text,
		locked boolean,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS accounts_by_username (
		username text PRIMARY KEY,
		user_id text
	)`,
}

const eventColumns = `event_id, user_id, event_type, ip_address, device_info, created_at, metadata, biometry_used, is_suspicious`

// PreparedStatements holds the statements used by the repositories
type PreparedStatements struct {
	InsertEvent       string
	EventsByUser      string
	EventsSince       string
	EventsNewestFirst string

	CreateAccount       string
	CreateUsernameIndex string
	GetAccountLock      string
	GetAccountByID      string
	GetUserIDByUsername string
	SetAccountLock      string
	LockIfUnlocked      string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/client.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/client.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}
	client.prepareStatements()

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return
	}

	s.Prepared = &PreparedStatements{
		InsertEvent: `INSERT INTO security_events (event_bucket, seq, ` + eventColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		EventsByUser: `SELECT ` + eventColumns + ` FROM security_events
			WHERE event_bucket = ? AND user_id = ?`,
		EventsSince: `SELECT ` + eventColumns + ` FROM security_events
			WHERE event_bucket = ? AND user_id = ? AND created_at > ?`,
		EventsNewestFirst: `SELECT ` + eventColumns + ` FROM security_events
			WHERE event_bucket = ? AND user_id = ? ORDER BY created_at DESC, seq DESC`,

		CreateAccount: `INSERT INTO accounts (user_id, username, password_hash, locked, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		CreateUsernameIndex: `INSERT INTO accounts_by_username (username, user_id) VALUES (?, ?)`,
		GetAccountLock:      `SELECT locked FROM accounts WHERE user_id = ?`,
		GetAccountByID: `SELECT user_id, username, password_hash, locked, created_at, updated_at
			FROM accounts WHERE user_id = ?`,
		GetUserIDByUsername: `SELECT user_id FROM accounts_by_username WHERE username = ?`,
		SetAccountLock:      `UPDATE accounts SET locked = ?, updated_at = ? WHERE user_id = ?`,
		LockIfUnlocked:      `UPDATE accounts SET locked = true, updated_at = ? WHERE user_id = ? IF locked = false`,
	}
	s.isPrepared = true
}

// EnsureSchema creates the tables if they do not exist
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.Int("statements", len(Schema)))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ScanWithRetry retries transient read failures; ErrNotFound is returned at once
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
