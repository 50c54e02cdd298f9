package proxy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuffer_PushReadRoundTrip(t *testing.T) {
	b := NewBuffer(16)

	outcome := b.Push([]byte("hello"))
	require.Equal(t, Accepted, outcome)

	buf := make([]byte, 16)
	n, ro, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, Data, ro)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestBuffer_PushSuspendsWhenFull(t *testing.T) {
	b := NewBuffer(4)

	require.Equal(t, Accepted, b.Push([]byte("ab")))
	outcome := b.Push([]byte("cdef"))
	require.Equal(t, Suspend, outcome)

	buf := make([]byte, 4)
	n, _, _ := b.Read(buf)
	require.Equal(t, 4, n)
	require.Equal(t, "abcd", string(buf))
}

func TestBuffer_ReadEmptyWouldSuspend(t *testing.T) {
	b := NewBuffer(8)

	buf := make([]byte, 8)
	n, ro, err := b.Read(buf)
	require.Equal(t, 0, n)
	require.Equal(t, WouldSuspend, ro)
	require.NoError(t, err)
}

func TestBuffer_FinishDrainsThenDone(t *testing.T) {
	b := NewBuffer(8)
	b.Push([]byte("ab"))
	b.Finish(nil)

	buf := make([]byte, 8)
	n, ro, _ := b.Read(buf)
	require.Equal(t, 2, n)
	require.Equal(t, Data, ro)

	n, ro, err := b.Read(buf)
	require.Equal(t, 0, n)
	require.Equal(t, Done, ro)
	require.NoError(t, err)
}

func TestBuffer_AbortStopsProducerAndDrainsConsumer(t *testing.T) {
	b := NewBuffer(8)
	b.Abort()

	require.Equal(t, Abort, b.Push([]byte("x")))

	buf := make([]byte, 8)
	_, ro, _ := b.Read(buf)
	require.Equal(t, Done, ro)
}

func TestBuffer_WaitWakesOnPush(t *testing.T) {
	b := NewBuffer(8)
	var wg sync.WaitGroup
	wg.Add(1)

	woke := make(chan struct{})
	go func() {
		defer wg.Done()
		b.Wait()
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-woke:
		t.Fatal("Wait returned before any bytes were pushed")
	default:
	}

	b.Push([]byte("x"))
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Push")
	}
	wg.Wait()
}

func TestBuffer_WaitSpaceWakesOnRead(t *testing.T) {
	b := NewBuffer(4)
	require.Equal(t, Accepted, b.Push([]byte("abcd")))

	woke := make(chan struct{})
	go func() {
		b.WaitSpace()
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-woke:
		t.Fatal("WaitSpace returned before any bytes were drained")
	default:
	}

	buf := make([]byte, 2)
	b.Read(buf)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("WaitSpace did not wake after Read freed room")
	}
}

func TestBuffer_WaitSpaceWakesOnAbort(t *testing.T) {
	b := NewBuffer(2)
	require.Equal(t, Accepted, b.Push([]byte("ab")))

	done := make(chan struct{})
	go func() {
		b.WaitSpace()
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	b.Abort()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitSpace did not wake after Abort")
	}
}

func TestBuffer_WaitWakesOnFinishAndAbort(t *testing.T) {
	b := NewBuffer(8)
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	b.Finish(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Finish")
	}

	b2 := NewBuffer(8)
	done2 := make(chan struct{})
	go func() {
		b2.Wait()
		close(done2)
	}()
	time.Sleep(5 * time.Millisecond)
	b2.Abort()
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Abort")
	}
}
