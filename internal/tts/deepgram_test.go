package tts

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestPCMCollectorConcurrentWrites(t *testing.T) {
	col := &pcmCollector{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				col.add([]byte{0xAB})
			}
		}()
	}
	// Readers run while writers are still appending.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = col.take()
			_ = col.idleFor(time.Millisecond)
		}
	}()
	wg.Wait()
	<-done

	got := col.take()
	if len(got) != 800 {
		t.Fatalf("collected %d bytes, want 800", len(got))
	}
	if !bytes.Equal(got[:1], []byte{0xAB}) {
		t.Fatalf("unexpected payload byte %x", got[0])
	}
}

func TestPCMCollectorIdleWindow(t *testing.T) {
	col := &pcmCollector{}
	if col.idleFor(0) {
		t.Fatal("idle before any audio arrived")
	}
	col.add([]byte{1, 2, 3})
	if col.idleFor(time.Second) {
		t.Fatal("idle immediately after audio arrived")
	}
	time.Sleep(10 * time.Millisecond)
	if !col.idleFor(time.Millisecond) {
		t.Fatal("idle window never elapsed")
	}
}

func TestPCMCollectorTakeCopies(t *testing.T) {
	col := &pcmCollector{}
	col.add([]byte{1, 2})
	out := col.take()
	col.add([]byte{3, 4})
	if !bytes.Equal(out, []byte{1, 2}) {
		t.Fatalf("returned slice mutated by later writes: %v", out)
	}
}
