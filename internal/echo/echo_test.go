package echo

import (
	"sync"
	"testing"
)

func TestGuard(t *testing.T) {
	t.Parallel()

	var g Guard
	if g.IsBusy() {
		t.Fatal("zero Guard is busy")
	}
	g.SetBusy(true)
	g.SetBusy(true)
	if !g.IsBusy() {
		t.Fatal("SetBusy(true) not observed")
	}
	g.SetBusy(false)
	if g.IsBusy() {
		t.Fatal("SetBusy(false) not observed")
	}
}

func TestGuard_Concurrent(t *testing.T) {
	t.Parallel()

	var g Guard
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(2)
		go func() { defer wg.Done(); g.SetBusy(i%2 == 0) }()
		go func() { defer wg.Done(); _ = g.IsBusy() }()
	}
	wg.Wait()
}
