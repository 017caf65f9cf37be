package txlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"nsprovider/internal/storeerr"
)

func TestTwoReadersOverlappingStoresBothGrantedImmediately(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			tk, err := mgr.Open(ctx, []string{"a"}, ReadOnly)
			if err == nil {
				tk.Complete()
			}
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for readers to be admitted")
		}
	}
}

func TestWriterBlocksUntilReaderCompletes(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	reader, err := mgr.Open(ctx, []string{"a"}, ReadOnly)
	if err != nil {
		t.Fatal(err)
	}

	writerGranted := make(chan *Ticket, 1)
	go func() {
		tk, err := mgr.Open(ctx, []string{"a"}, ReadWrite)
		if err != nil {
			t.Error(err)
			return
		}
		writerGranted <- tk
	}()

	select {
	case <-writerGranted:
		t.Fatal("writer was granted while a conflicting reader was still open")
	case <-time.After(50 * time.Millisecond):
	}

	reader.Complete()

	select {
	case tk := <-writerGranted:
		tk.Complete()
	case <-time.After(time.Second):
		t.Fatal("writer was never granted after reader completed")
	}
}

func TestNonOverlappingStoresDoNotConflict(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	writerA, err := mgr.Open(ctx, []string{"a"}, ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer writerA.Complete()

	done := make(chan error, 1)
	go func() {
		tk, err := mgr.Open(ctx, []string{"b"}, ReadWrite)
		if err == nil {
			tk.Complete()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("non-overlapping writer should have been granted immediately")
	}
}

func TestFIFOWriterNotStarvedByLaterReaders(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	blocker, err := mgr.Open(ctx, []string{"a"}, ReadWrite)
	if err != nil {
		t.Fatal(err)
	}

	order := make(chan string, 2)

	writerGranted := make(chan *Ticket, 1)
	go func() {
		tk, err := mgr.Open(ctx, []string{"a"}, ReadWrite)
		if err != nil {
			t.Error(err)
			return
		}
		order <- "writer"
		writerGranted <- tk
	}()

	// give the writer time to enqueue before the later reader arrives
	time.Sleep(20 * time.Millisecond)

	readerDone := make(chan struct{})
	go func() {
		tk, err := mgr.Open(ctx, []string{"a"}, ReadOnly)
		if err != nil {
			t.Error(err)
			return
		}
		order <- "reader"
		tk.Complete()
		close(readerDone)
	}()

	time.Sleep(20 * time.Millisecond)
	blocker.Complete()

	first := <-order
	if first != "writer" {
		t.Fatalf("expected queued writer to be admitted before later reader, got %q first", first)
	}
	(<-writerGranted).Complete()
	<-readerDone
}

func TestOpenAfterCloseWhenPossibleReturnsErrDatabaseClosing(t *testing.T) {
	mgr := NewManager()
	<-mgr.CloseWhenPossible()

	_, err := mgr.Open(context.Background(), []string{"a"}, ReadOnly)
	if !errors.Is(err, storeerr.ErrDatabaseClosing) {
		t.Fatalf("expected ErrDatabaseClosing, got %v", err)
	}
}

func TestCloseWhenPossibleWaitsForOpenTickets(t *testing.T) {
	mgr := NewManager()
	tk, err := mgr.Open(context.Background(), []string{"a"}, ReadWrite)
	if err != nil {
		t.Fatal(err)
	}

	drained := mgr.CloseWhenPossible()
	select {
	case <-drained:
		t.Fatal("drain channel closed before the open ticket resolved")
	case <-time.After(20 * time.Millisecond):
	}

	tk.Complete()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain channel never closed after the last ticket resolved")
	}
}

func TestOpenCanceledByContext(t *testing.T) {
	mgr := NewManager()
	blocker, err := mgr.Open(context.Background(), []string{"a"}, ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer blocker.Complete()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = mgr.Open(ctx, []string{"a"}, ReadWrite)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
