package cache

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gocql/gocql"

	"github.com/edgevod/proxy/internal/config"
)

func testCassandraBackend(cfg config.CassandraConfig) *CassandraBackend {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCassandraBackend(logger, cfg, time.Hour, 1000)
}

func TestCassandraTableNames(t *testing.T) {
	c := testCassandraBackend(config.CassandraConfig{Keyspace: "edgevod", Table: "objects"})
	if got := c.table(); got != "edgevod.objects" {
		t.Errorf("table() = %q, want edgevod.objects", got)
	}
	if got := c.counterTable(); got != "edgevod.objects_hits" {
		t.Errorf("counterTable() = %q, want edgevod.objects_hits", got)
	}
}

func TestCassandraConsistency(t *testing.T) {
	c := testCassandraBackend(config.CassandraConfig{Consistency: "LOCAL_ONE"})
	if got := c.consistency(); got != gocql.LocalOne {
		t.Errorf("consistency() = %v, want LocalOne", got)
	}

	c = testCassandraBackend(config.CassandraConfig{Consistency: "LOCAL_QUORUM"})
	if got := c.consistency(); got != gocql.LocalQuorum {
		t.Errorf("consistency() = %v, want LocalQuorum (default)", got)
	}
}

func TestCassandraCapacityInfoUsesItemCountRatio(t *testing.T) {
	c := testCassandraBackend(config.CassandraConfig{})
	c.maxItems = 100
	c.itemCount.Store(25)
	c.usedBytes.Store(4096)

	info := c.GetCapacityInfo(nil)
	if info.ItemCount != 25 || info.UsedBytes != 4096 {
		t.Fatalf("unexpected capacity snapshot: %+v", info)
	}
	if info.UsedPercentage != 25 {
		t.Errorf("UsedPercentage = %v, want 25", info.UsedPercentage)
	}
}

func TestCassandraIsHealthyFalseBeforeInitialize(t *testing.T) {
	c := testCassandraBackend(config.CassandraConfig{})
	if c.IsHealthy(nil) {
		t.Fatal("expected IsHealthy to be false with no session established")
	}
}
