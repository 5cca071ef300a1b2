package buffer

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	cerrors "github.com/c360/telemetryd/errors"
	"github.com/stretchr/testify/require"
)

func TestBufferInterface(t *testing.T) {
	testCases := []struct {
		name string
		buf  Buffer[int]
	}{
		{"CircularBuffer", func() Buffer[int] {
			buf, err := NewCircularBuffer[int](5)
			if err != nil {
				panic(err)
			}
			return buf
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.buf
			defer buf.Close()

			if buf.Size() != 0 {
				t.Errorf("Expected initial size 0, got %d", buf.Size())
			}
			if buf.Capacity() != 5 {
				t.Errorf("Expected capacity 5, got %d", buf.Capacity())
			}
			if !buf.IsEmpty() {
				t.Error("Expected buffer to be empty initially")
			}
			if buf.IsFull() {
				t.Error("Expected buffer not to be full initially")
			}
		})
	}
}

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err, "Failed to create buffer")
	defer buf.Close()

	if err := buf.Write("first"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if buf.Size() != 1 {
		t.Errorf("Expected size 1, got %d", buf.Size())
	}

	if err := buf.Write("second"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := buf.Write("third"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if !buf.IsFull() {
		t.Error("Expected buffer to be full")
	}
	if buf.IsEmpty() {
		t.Error("Expected buffer not to be empty")
	}

	value, ok := buf.Read()
	if !ok {
		t.Error("Expected read to succeed")
	}
	if value != "first" {
		t.Errorf("Expected read to return 'first', got %s", value)
	}
	if buf.Size() != 2 {
		t.Errorf("Expected size 2 after read, got %d", buf.Size())
	}

	batch := buf.ReadBatch(2)
	if len(batch) != 2 {
		t.Errorf("Expected batch size 2, got %d", len(batch))
	}
	if batch[0] != "second" || batch[1] != "third" {
		t.Errorf("Expected ['second', 'third'], got %v", batch)
	}
	if buf.Size() != 0 {
		t.Errorf("Expected size 0 after batch read, got %d", buf.Size())
	}
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	testCases := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
	}{
		{
			name:     "DropOldest",
			policy:   DropOldest,
			expected: []int{3, 4, 5}, // 1,2 dropped
		},
		{
			name:     "DropNewest",
			policy:   DropNewest,
			expected: []int{1, 2, 3}, // 4,5 not added
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := NewCircularBuffer[int](3, WithOverflowPolicy[int](tc.policy))
			if err != nil {
				t.Fatalf("Failed to create buffer: %v", err)
			}
			defer buf.Close()

			for i := 1; i <= 5; i++ {
				_ = buf.Write(i)
			}

			var result []int
			for !buf.IsEmpty() {
				value, ok := buf.Read()
				if ok {
					result = append(result, value)
				}
			}

			if len(result) != len(tc.expected) {
				t.Errorf("Expected %d items, got %d", len(tc.expected), len(result))
			}

			for i, expected := range tc.expected {
				if i < len(result) && result[i] != expected {
					t.Errorf("Position %d: expected %d, got %d", i, expected, result[i])
				}
			}
		})
	}
}

func TestCircularBufferWithStatistics(t *testing.T) {
	buf, err := NewCircularBuffer[int](5)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	stats := buf.Stats()
	if stats == nil {
		t.Fatal("Expected stats to be enabled")
	}

	_ = buf.Write(1)
	_ = buf.Write(2)

	if stats.Writes() != 2 {
		t.Errorf("Expected 2 writes, got %d", stats.Writes())
	}

	buf.Read()

	if stats.Reads() != 1 {
		t.Errorf("Expected 1 read, got %d", stats.Reads())
	}

	overflowBuf, err := NewCircularBuffer[int](2, WithOverflowPolicy[int](DropOldest))
	require.NoError(t, err, "Failed to create overflow buffer")
	defer overflowBuf.Close()

	_ = overflowBuf.Write(1)
	_ = overflowBuf.Write(2)
	_ = overflowBuf.Write(3) // Should cause overflow

	overflowStats := overflowBuf.Stats()
	if overflowStats.Overflows() != 1 {
		t.Errorf("Expected 1 overflow, got %d", overflowStats.Overflows())
	}
	if overflowStats.MaxSize() != 2 {
		t.Errorf("Expected max size 2, got %d", overflowStats.MaxSize())
	}
}

func TestCircularBufferThreadSafety(t *testing.T) {
	buf, err := NewCircularBuffer[int](1000)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	var wg sync.WaitGroup
	numWorkers := 10
	itemsPerWorker := 100

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < itemsPerWorker; i++ {
				_ = buf.Write(worker*itemsPerWorker + i)
			}
		}(w)
	}

	wg.Add(numWorkers)
	readCount := 0
	var readMutex sync.Mutex
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < itemsPerWorker; i++ {
				if _, ok := buf.Read(); ok {
					readMutex.Lock()
					readCount++
					readMutex.Unlock()
				}
			}
		}()
	}

	wg.Wait()

	finalSize := buf.Size()
	totalWritten := numWorkers * itemsPerWorker

	readMutex.Lock()
	totalRead := readCount
	readMutex.Unlock()

	if totalRead+finalSize != totalWritten {
		t.Errorf("Data integrity issue: written=%d, read=%d, remaining=%d",
			totalWritten, totalRead, finalSize)
	}
}

func TestCircularBufferClear(t *testing.T) {
	buf, err := NewCircularBuffer[string](5)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	_ = buf.Write("a")
	_ = buf.Write("b")
	_ = buf.Write("c")

	if buf.Size() != 3 {
		t.Errorf("Expected size 3, got %d", buf.Size())
	}

	buf.Clear()

	if buf.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", buf.Size())
	}
	if !buf.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
}

func TestCircularBufferOnDrop(t *testing.T) {
	var droppedItems []int
	var mu sync.Mutex

	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback(func(item int) {
			mu.Lock()
			droppedItems = append(droppedItems, item)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Write(3) // Should drop 1
	_ = buf.Write(4) // Should drop 2

	mu.Lock()
	if len(droppedItems) != 2 {
		t.Errorf("Expected 2 dropped items, got %d", len(droppedItems))
	}
	if len(droppedItems) >= 2 && (droppedItems[0] != 1 || droppedItems[1] != 2) {
		t.Errorf("Expected dropped items [1, 2], got %v", droppedItems)
	}
	mu.Unlock()
}

func TestCircularBufferDropNewestCallback(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback(func(item int) {
			dropped = append(dropped, item)
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Write(3) // Full: the incoming item is the one dropped

	if len(dropped) != 1 || dropped[0] != 3 {
		t.Errorf("Expected dropped items [3], got %v", dropped)
	}
	if value, ok := buf.Read(); !ok || value != 1 {
		t.Errorf("Expected to read 1, got %d (ok=%v)", value, ok)
	}
}

func TestCircularBufferCallbackReentry(t *testing.T) {
	// The callback runs with the buffer lock released, so calling back
	// into the buffer must not deadlock.
	var buf *CircularBuffer[int]
	var sizes []int

	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback(func(item int) {
			sizes = append(sizes, buf.Size())
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Write(3) // Drops 1, callback observes the settled buffer

	if len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("Expected callback to see size 2, got %v", sizes)
	}

	buf.Clear() // Drops 2 and 3, callbacks observe the emptied buffer

	if len(sizes) != 3 || sizes[1] != 0 || sizes[2] != 0 {
		t.Errorf("Expected clear callbacks to see size 0, got %v", sizes)
	}
}

func TestCircularBufferEdgeCases(t *testing.T) {
	buf, err := NewCircularBuffer[int](1)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	_ = buf.Write(1)
	if !buf.IsFull() {
		t.Error("Buffer with capacity 1 should be full after one write")
	}

	value, ok := buf.Read()
	if !ok || value != 1 {
		t.Errorf("Expected to read 1, got %d (ok=%v)", value, ok)
	}

	_, ok = buf.Read()
	if ok {
		t.Error("Reading from empty buffer should return false")
	}

	batch := buf.ReadBatch(5)
	if len(batch) != 0 {
		t.Errorf("ReadBatch on empty buffer should return empty slice, got %v", batch)
	}
}

func TestBlockingPolicyUnblocksOnRead(t *testing.T) {
	buf, err := NewCircularBuffer[int](2, WithOverflowPolicy[int](Block))
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	_ = buf.Write(1)
	_ = buf.Write(2)

	var wg sync.WaitGroup
	var writeErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		writeErr = buf.Write(3)
	}()

	// Give the writer time to block
	time.Sleep(50 * time.Millisecond)

	value, ok := buf.Read()
	if !ok || value != 1 {
		t.Errorf("Expected to read 1, got %d (ok=%v)", value, ok)
	}

	wg.Wait()

	if writeErr != nil {
		t.Errorf("Write should have succeeded after read, got error: %v", writeErr)
	}

	if buf.Size() != 2 {
		t.Errorf("Expected size 2 after unblocking write, got %d", buf.Size())
	}
}

func TestReadWithContextDeliversLateItem(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err, "Failed to create buffer")
	defer buf.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = buf.Write(42)
	}()

	start := time.Now()
	value, ok := buf.ReadWithContext(context.Background())
	elapsed := time.Since(start)

	if !ok {
		t.Fatal("Expected blocking read to deliver an item")
	}
	if value != 42 {
		t.Errorf("Expected 42, got %d", value)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("Read returned before the item was written: %v", elapsed)
	}
}

func TestReadWithContextCancellation(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err, "Failed to create buffer")
	defer buf.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := buf.ReadWithContext(ctx)
	elapsed := time.Since(start)

	if ok {
		t.Error("Expected cancelled read to return false")
	}
	if elapsed < 40*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Errorf("Expected ~50ms cancellation, got %v", elapsed)
	}
}

func TestReadWithContextDrainsAfterClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err, "Failed to create buffer")

	_ = buf.Write(1)
	_ = buf.Write(2)
	_ = buf.Close()

	ctx := context.Background()

	value, ok := buf.ReadWithContext(ctx)
	if !ok || value != 1 {
		t.Errorf("Expected to drain 1 after close, got %d (ok=%v)", value, ok)
	}
	value, ok = buf.ReadWithContext(ctx)
	if !ok || value != 2 {
		t.Errorf("Expected to drain 2 after close, got %d (ok=%v)", value, ok)
	}

	// Drained and closed: return immediately with ok=false
	start := time.Now()
	_, ok = buf.ReadWithContext(ctx)
	if ok {
		t.Error("Expected read on drained closed buffer to return false")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Read on drained closed buffer should not block, took %v", elapsed)
	}
}

func TestReadWithContextUnblocksOnClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err, "Failed to create buffer")

	done := make(chan bool, 1)
	go func() {
		_, ok := buf.ReadWithContext(context.Background())
		done <- ok
	}()

	// Give the reader time to block
	time.Sleep(50 * time.Millisecond)
	_ = buf.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected read woken by close to return false")
		}
	case <-time.After(time.Second):
		t.Fatal("Reader did not wake on close")
	}
}

func TestErrorFrameworkIntegration(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	_ = buf.Close()

	err = buf.Write(1)
	if err == nil {
		t.Fatal("Expected error when writing to closed buffer")
	}

	var classifiedErr *cerrors.ClassifiedError
	if !errors.As(err, &classifiedErr) {
		t.Error("Expected error to be classified")
	} else {
		if classifiedErr.Class != cerrors.ErrorInvalid {
			t.Errorf("Expected ErrorInvalid class, got %v", classifiedErr.Class)
		}
		if classifiedErr.Component != "Buffer" {
			t.Errorf("Expected component 'Buffer', got %s", classifiedErr.Component)
		}
		if classifiedErr.Operation != "Write" {
			t.Errorf("Expected operation 'Write', got %s", classifiedErr.Operation)
		}
	}

	if !errors.Is(err, cerrors.ErrAlreadyStopped) {
		t.Error("Expected error to wrap ErrAlreadyStopped")
	}
}

func TestReadWithContextNoGoroutineLeaks(t *testing.T) {
	initialGoroutines := runtime.NumGoroutine()

	buf, err := NewCircularBuffer[int](4)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	defer buf.Close()

	// Cancelled waits must not leave watchers behind
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, _ = buf.ReadWithContext(ctx)
		cancel()
	}

	// Fast-path reads never spawn a watcher
	for i := 0; i < 10; i++ {
		_ = buf.Write(i)
		_, _ = buf.ReadWithContext(context.Background())
	}

	time.Sleep(100 * time.Millisecond)

	finalGoroutines := runtime.NumGoroutine()
	if finalGoroutines > initialGoroutines+2 {
		t.Errorf("Potential goroutine leak: started with %d, ended with %d",
			initialGoroutines, finalGoroutines)
	}
}
