package process

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestWaitForListener_Ready(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForListener(ctx, ln.Addr().String(), 50*time.Millisecond); err != nil {
		t.Errorf("WaitForListener() error = %v", err)
	}
}

func TestWaitForListener_BecomesReady(t *testing.T) {
	// Reserve a port, release it, then listen on it a little later.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		late, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		late.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := WaitForListener(ctx, addr, 50*time.Millisecond); err != nil {
		t.Fatalf("WaitForListener() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("returned after %v, before the listener existed", elapsed)
	}
}

func TestWaitForListener_Timeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = WaitForListener(ctx, addr, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForListener() error = %v, want DeadlineExceeded", err)
	}
}
