package couchkit

import (
	"fmt"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/couchkit/internal/metrics"
)

// defaultName is the implicit scope and collection namespace.
const defaultName = "_default"

// SessionLike is the capability set the helper and query-builder layers
// consume. Both *Session and test doubles satisfy it.
type SessionLike interface {
	Connect() error
	Disconnect()
	Connected() bool
	Cluster() Cluster
	Bucket() Bucket
	BucketName() (string, error)
	SetBucket(name string) error
	Scope() Scope
	ScopeName() string
	SetScope(name string) error
	Collection() Collection
	CollectionName() string
	SetCollection(name string) error
	Ping() (bool, error)
	Timeout() Timeout
}

// SessionOptions carries the optional settings for NewSession.
type SessionOptions struct {
	// Bucket, Scope, and Collection are selected during Connect when set.
	// Scope and Collection default to "_default".
	Bucket     string
	Scope      string
	Collection string

	// TLS switches the connection string to the couchbases:// scheme.
	TLS bool

	// WAN applies the wan_development cluster profile.
	WAN bool

	// Timeout overrides the default timeout values.
	Timeout *Timeout

	// Logger overrides the global logger.
	Logger *zerolog.Logger
}

// Session owns a cluster connection and the currently selected bucket,
// scope, and collection. It is not safe for concurrent use; callers needing
// concurrency must use one Session per goroutine.
type Session struct {
	hostname string
	username string
	password string
	tls      bool
	wan      bool
	timeout  Timeout
	logger   zerolog.Logger

	cluster        Cluster
	bucket         Bucket
	bucketName     string
	scope          Scope
	scopeName      string
	collection     Collection
	collectionName string
	connected      bool
}

// NewSession creates a disconnected session for the given cluster hostname
// and credentials. The hostname is given without a protocol, e.g.
// "localhost" or "127.0.0.1". Pass nil opts for the defaults.
func NewSession(hostname, username, password string, opts *SessionOptions) *Session {
	if opts == nil {
		opts = &SessionOptions{}
	}

	session := &Session{
		hostname:       hostname,
		username:       username,
		password:       password,
		tls:            opts.TLS,
		wan:            opts.WAN,
		timeout:        DefaultTimeoutValues(),
		logger:         log.Logger,
		bucketName:     opts.Bucket,
		scopeName:      defaultName,
		collectionName: defaultName,
	}

	if opts.Timeout != nil {
		session.timeout = *opts.Timeout
	}
	if opts.Logger != nil {
		session.logger = *opts.Logger
	}
	if opts.Scope != "" {
		session.scopeName = opts.Scope
	}
	if opts.Collection != "" {
		session.collectionName = opts.Collection
	}

	return session
}

// ConnectionString combines the protocol and hostname for the connection.
func (s *Session) ConnectionString() string {
	scheme := "couchbase"
	if s.tls {
		scheme = "couchbases"
	}
	return fmt.Sprintf("%s://%s", scheme, s.hostname)
}

func (s *Session) clusterOptions() (gocb.ClusterOptions, error) {
	opts := gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: s.username,
			Password: s.password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: s.timeout.ConnectionDuration(),
			KVTimeout:      s.timeout.KVDuration(),
			QueryTimeout:   s.timeout.QueryDuration(),
		},
	}

	if s.wan {
		if err := opts.ApplyProfile(gocb.ClusterConfigProfileWanDevelopment); err != nil {
			return opts, fmt.Errorf("apply wan profile: %w", err)
		}
	}

	return opts, nil
}

// Connect establishes the cluster connection, re-applies any configured
// bucket, scope, and collection names, and blocks until the cluster reports
// ready or the connection timeout elapses. Connecting an already connected
// session is a no-op.
func (s *Session) Connect() error {
	if s.Connected() {
		return nil
	}

	s.logger.Debug().
		Str("connection_string", s.ConnectionString()).
		Msg("Connecting to cluster")

	if s.cluster == nil {
		opts, err := s.clusterOptions()
		if err != nil {
			return err
		}

		cluster, err := dialCluster(s.ConnectionString(), opts)
		if err != nil {
			return fmt.Errorf("connect cluster: %w", err)
		}
		s.cluster = cluster
	}

	if s.bucketName != "" {
		if err := s.SetBucket(s.bucketName); err != nil {
			return err
		}
		if err := s.SetScope(s.scopeName); err != nil {
			return err
		}
		if err := s.SetCollection(s.collectionName); err != nil {
			return err
		}
	}

	err := s.cluster.WaitUntilReady(s.timeout.ConnectionDuration(), &gocb.WaitUntilReadyOptions{})
	if err != nil {
		s.logger.Error().Err(err).
			Int("timeout_seconds", s.timeout.Connection()).
			Msg("Cluster not ready within connection timeout")
		return fmt.Errorf("%w: %w", ErrConnectionTimeout, err)
	}

	s.connected = true
	metrics.SessionConnected()
	return nil
}

// Disconnect shuts down the cluster connection and clears the connected
// state. Disconnecting an already disconnected session is a no-op.
func (s *Session) Disconnect() {
	if s.cluster != nil {
		if err := s.cluster.Close(nil); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close cluster connection")
		}
	}
	if s.connected {
		metrics.SessionDisconnected()
	}
	s.cluster = nil
	s.connected = false
}

// Connected reports whether the session holds a live cluster connection.
func (s *Session) Connected() bool {
	return s.connected && s.cluster != nil
}

// Cluster returns the cluster handle.
func (s *Session) Cluster() Cluster {
	return s.cluster
}

// SetCluster replaces the cluster handle. When the session is connected it
// disconnects first and reconnects with the new handle, re-applying the
// previously selected bucket, scope, and collection names.
func (s *Session) SetCluster(cluster Cluster) error {
	reconnect := s.connected
	if reconnect {
		s.Disconnect()
	}

	s.cluster = cluster
	s.bucket = nil
	s.scope = nil
	s.collection = nil

	if reconnect {
		return s.Connect()
	}
	return nil
}

// Bucket returns the selected bucket handle.
func (s *Session) Bucket() Bucket {
	return s.bucket
}

// BucketName returns the selected bucket name, or ErrBucketNotSet when no
// bucket has been selected.
func (s *Session) BucketName() (string, error) {
	if s.bucket == nil {
		return "", ErrBucketNotSet
	}
	return s.bucketName, nil
}

// SetBucket selects a bucket by name, re-deriving the bucket handle from
// the current cluster connection.
func (s *Session) SetBucket(name string) error {
	if s.cluster == nil {
		return ErrClusterNotSet
	}

	s.bucket = s.cluster.Bucket(name)
	s.bucketName = name
	return nil
}

// Scope returns the selected scope handle.
func (s *Session) Scope() Scope {
	return s.scope
}

// ScopeName returns the selected scope name.
func (s *Session) ScopeName() string {
	return s.scopeName
}

// SetScope selects a scope by name within the selected bucket.
func (s *Session) SetScope(name string) error {
	if s.bucket == nil {
		return ErrBucketNotSet
	}

	s.scope = s.bucket.Scope(name)
	s.scopeName = name
	return nil
}

// Collection returns the selected collection handle.
func (s *Session) Collection() Collection {
	return s.collection
}

// CollectionName returns the selected collection name.
func (s *Session) CollectionName() string {
	return s.collectionName
}

// SetCollection selects a collection by name within the selected scope.
func (s *Session) SetCollection(name string) error {
	if s.scope == nil {
		return ErrScopeNotSet
	}

	s.collection = s.scope.Collection(name)
	s.collectionName = name
	return nil
}

// DefaultCollection selects the default scope and collection of the
// selected bucket.
func (s *Session) DefaultCollection() error {
	if s.bucket == nil {
		return ErrBucketNotSet
	}

	s.scope = s.bucket.DefaultScope()
	s.scopeName = s.scope.Name()
	s.collection = s.bucket.DefaultCollection()
	s.collectionName = s.collection.Name()
	return nil
}

// Ping checks the health of the selected bucket. It returns true only when
// every endpoint report signals OK. A bucket reporting no endpoints is
// treated as healthy.
func (s *Session) Ping() (bool, error) {
	if s.bucket == nil {
		return false, ErrBucketNotSet
	}

	result, err := s.bucket.Ping(nil)
	if err != nil {
		return false, fmt.Errorf("ping bucket: %w", err)
	}

	for _, reports := range result.Services {
		for _, report := range reports {
			if report.State != gocb.PingStateOk {
				return false, nil
			}
		}
	}
	return true, nil
}

// Timeout returns the session's timeout configuration.
func (s *Session) Timeout() Timeout {
	return s.timeout
}
