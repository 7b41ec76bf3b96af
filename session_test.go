package couchkit_test

import (
	"errors"
	"testing"

	"github.com/couchbase/gocb/v2"

	"stealthcompany.com/couchkit"
	"stealthcompany.com/couchkit/fake"
)

// connectedSession returns a session connected to a fresh fake cluster with
// the given bucket selected.
func connectedSession(t *testing.T, bucket string) (*couchkit.Session, *fake.Cluster) {
	t.Helper()

	cluster := fake.NewCluster()
	session := couchkit.NewSession("localhost", "user", "password", &couchkit.SessionOptions{
		Bucket: bucket,
	})
	if err := session.SetCluster(cluster); err != nil {
		t.Fatalf("SetCluster failed: %v", err)
	}
	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return session, cluster
}

func TestSessionConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		tls      bool
		expected string
	}{
		{name: "Plain", tls: false, expected: "couchbase://db.example.com"},
		{name: "TLS", tls: true, expected: "couchbases://db.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := couchkit.NewSession("db.example.com", "user", "password", &couchkit.SessionOptions{
				TLS: tt.tls,
			})
			if got := session.ConnectionString(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSessionConnectSelectsNames(t *testing.T) {
	session, _ := connectedSession(t, "test")

	if !session.Connected() {
		t.Fatal("Expected session to be connected")
	}

	name, err := session.BucketName()
	if err != nil {
		t.Fatalf("BucketName failed: %v", err)
	}
	if name != "test" {
		t.Errorf("Expected bucket name 'test', got %q", name)
	}
	if session.ScopeName() != "_default" {
		t.Errorf("Expected scope '_default', got %q", session.ScopeName())
	}
	if session.CollectionName() != "_default" {
		t.Errorf("Expected collection '_default', got %q", session.CollectionName())
	}
	if session.Collection() == nil {
		t.Error("Expected collection handle to be resolved")
	}
}

func TestSessionConnectIdempotent(t *testing.T) {
	session, cluster := connectedSession(t, "test")

	if err := session.Connect(); err != nil {
		t.Fatalf("Second connect failed: %v", err)
	}
	if !session.Connected() {
		t.Error("Expected session to stay connected")
	}
	if cluster.Closed {
		t.Error("Reconnect must not close the existing cluster handle")
	}
}

func TestSessionConnectTimeout(t *testing.T) {
	cluster := fake.NewCluster()
	cluster.ReadyErr = gocb.ErrUnambiguousTimeout

	session := couchkit.NewSession("localhost", "user", "password", nil)
	if err := session.SetCluster(cluster); err != nil {
		t.Fatalf("SetCluster failed: %v", err)
	}

	err := session.Connect()
	if !errors.Is(err, couchkit.ErrConnectionTimeout) {
		t.Errorf("Expected ErrConnectionTimeout, got %v", err)
	}
	if session.Connected() {
		t.Error("Expected session to remain disconnected")
	}
}

func TestSessionDisconnect(t *testing.T) {
	session, cluster := connectedSession(t, "test")

	session.Disconnect()
	if session.Connected() {
		t.Error("Expected session to be disconnected")
	}
	if !cluster.Closed {
		t.Error("Expected cluster handle to be closed")
	}

	// Disconnecting again is a no-op.
	session.Disconnect()
}

func TestSessionPrerequisites(t *testing.T) {
	t.Run("SetBucket before cluster", func(t *testing.T) {
		session := couchkit.NewSession("localhost", "user", "password", nil)
		if err := session.SetBucket("test"); !errors.Is(err, couchkit.ErrClusterNotSet) {
			t.Errorf("Expected ErrClusterNotSet, got %v", err)
		}
	})

	t.Run("SetScope before bucket", func(t *testing.T) {
		session := couchkit.NewSession("localhost", "user", "password", nil)
		if err := session.SetCluster(fake.NewCluster()); err != nil {
			t.Fatalf("SetCluster failed: %v", err)
		}
		if err := session.SetScope("inventory"); !errors.Is(err, couchkit.ErrBucketNotSet) {
			t.Errorf("Expected ErrBucketNotSet, got %v", err)
		}
	})

	t.Run("SetCollection before scope", func(t *testing.T) {
		session := couchkit.NewSession("localhost", "user", "password", nil)
		if err := session.SetCluster(fake.NewCluster()); err != nil {
			t.Fatalf("SetCluster failed: %v", err)
		}
		if err := session.SetBucket("test"); err != nil {
			t.Fatalf("SetBucket failed: %v", err)
		}
		if err := session.SetCollection("airport"); !errors.Is(err, couchkit.ErrScopeNotSet) {
			t.Errorf("Expected ErrScopeNotSet, got %v", err)
		}
	})

	t.Run("Ping before bucket", func(t *testing.T) {
		session := couchkit.NewSession("localhost", "user", "password", nil)
		if _, err := session.Ping(); !errors.Is(err, couchkit.ErrBucketNotSet) {
			t.Errorf("Expected ErrBucketNotSet, got %v", err)
		}
	})

	t.Run("BucketName before bucket", func(t *testing.T) {
		session := couchkit.NewSession("localhost", "user", "password", nil)
		if _, err := session.BucketName(); !errors.Is(err, couchkit.ErrBucketNotSet) {
			t.Errorf("Expected ErrBucketNotSet, got %v", err)
		}
	})
}

func TestSessionSetScopeAndCollection(t *testing.T) {
	session, _ := connectedSession(t, "test")

	if err := session.SetScope("inventory"); err != nil {
		t.Fatalf("SetScope failed: %v", err)
	}
	if session.ScopeName() != "inventory" {
		t.Errorf("Expected scope 'inventory', got %q", session.ScopeName())
	}
	if session.Scope().Name() != "inventory" {
		t.Errorf("Expected scope handle 'inventory', got %q", session.Scope().Name())
	}

	if err := session.SetCollection("airport"); err != nil {
		t.Fatalf("SetCollection failed: %v", err)
	}
	if session.CollectionName() != "airport" {
		t.Errorf("Expected collection 'airport', got %q", session.CollectionName())
	}
	if session.Collection().Name() != "airport" {
		t.Errorf("Expected collection handle 'airport', got %q", session.Collection().Name())
	}
}

func TestSessionPing(t *testing.T) {
	tests := []struct {
		name     string
		reports  []gocb.EndpointPingReport
		expected bool
	}{
		{
			name:     "All endpoints OK",
			reports:  fake.OkPingReports(3),
			expected: true,
		},
		{
			name: "One endpoint failing",
			reports: append(fake.OkPingReports(2),
				gocb.EndpointPingReport{State: gocb.PingStateTimeout}),
			expected: false,
		},
		{
			name:     "Zero endpoints treated as healthy",
			reports:  nil,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, cluster := connectedSession(t, "test")
			cluster.Bucket("test").(*fake.Bucket).PingReports = tt.reports

			healthy, err := session.Ping()
			if err != nil {
				t.Fatalf("Ping failed: %v", err)
			}
			if healthy != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, healthy)
			}
		})
	}
}

func TestSessionSetClusterWhileConnected(t *testing.T) {
	session, oldCluster := connectedSession(t, "test")

	newCluster := fake.NewCluster()
	if err := session.SetCluster(newCluster); err != nil {
		t.Fatalf("SetCluster failed: %v", err)
	}

	if !oldCluster.Closed {
		t.Error("Expected the old cluster handle to be closed")
	}
	if !session.Connected() {
		t.Error("Expected session to reconnect with the new handle")
	}

	// The bucket selection must be re-resolved against the new cluster.
	name, err := session.BucketName()
	if err != nil {
		t.Fatalf("BucketName failed: %v", err)
	}
	if name != "test" {
		t.Errorf("Expected bucket name 'test', got %q", name)
	}
	if session.Bucket().Name() != "test" {
		t.Errorf("Expected bucket handle 'test', got %q", session.Bucket().Name())
	}
}

func TestSessionDefaultCollection(t *testing.T) {
	session, _ := connectedSession(t, "test")

	if err := session.SetScope("inventory"); err != nil {
		t.Fatalf("SetScope failed: %v", err)
	}
	if err := session.DefaultCollection(); err != nil {
		t.Fatalf("DefaultCollection failed: %v", err)
	}
	if session.ScopeName() != "_default" || session.CollectionName() != "_default" {
		t.Errorf("Expected default names, got %q.%q", session.ScopeName(), session.CollectionName())
	}
}

func TestSessionTimeoutOverride(t *testing.T) {
	timeout := couchkit.NewTimeout(20, 10, 60)
	session := couchkit.NewSession("localhost", "user", "password", &couchkit.SessionOptions{
		Timeout: &timeout,
	})

	if session.Timeout() != timeout {
		t.Errorf("Expected timeout override, got %+v", session.Timeout())
	}
}
