package process

import (
	"context"
	"fmt"
	"net"
	"time"
)

// WaitForListener polls addr until a TCP connection succeeds or ctx ends.
// Each dial is bounded by interval.
func WaitForListener(ctx context.Context, addr string, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	var d net.Dialer
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		dialCtx, cancel := context.WithTimeout(ctx, interval)
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w (last dial: %v)", addr, ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}
