package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Maverick0351a/latticedb/internal/receipt"
)

type mockIngestor struct {
	mu    sync.Mutex
	calls int
	dirs  []string
	err   error
}

func (m *mockIngestor) IngestDir(ctx context.Context, dir string) ([]*receipt.Lattice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.dirs = append(m.dirs, dir)
	if m.err != nil {
		return nil, m.err
	}
	return []*receipt.Lattice{{LatticeID: "L-000001"}}, nil
}

func (m *mockIngestor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestScanCoordinator_ScansImmediatelyAndOnTicks(t *testing.T) {
	mock := &mockIngestor{}
	c := NewScanCoordinator(mock, "/watch", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mock.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d scans before deadline", mock.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.dirs[0] != "/watch" {
		t.Errorf("scanned dir = %q", mock.dirs[0])
	}
}

func TestScanCoordinator_KeepsRunningAfterError(t *testing.T) {
	mock := &mockIngestor{err: errors.New("transient")}
	c := NewScanCoordinator(mock, "/watch", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mock.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("coordinator stopped after error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestScanCoordinator_StopsOnCancel(t *testing.T) {
	mock := &mockIngestor{}
	c := NewScanCoordinator(mock, "/watch", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on cancel")
	}
}
