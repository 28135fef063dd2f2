package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// pingFunc reports the average round-trip time to host.
type pingFunc func(ctx context.Context, host string) (time.Duration, error)

// icmpPing sends count echo requests to host. Linux hosts need
// net.ipv4.ping_group_range to cover the user for unprivileged pings.
func icmpPing(count int, timeout time.Duration) pingFunc {
	return func(ctx context.Context, host string) (time.Duration, error) {
		pinger, err := probing.NewPinger(host)
		if err != nil {
			return 0, fmt.Errorf("create pinger: %w", err)
		}
		pinger.Count = count
		pinger.Timeout = timeout
		pinger.SetPrivileged(runtime.GOOS == "windows")

		done := make(chan error, 1)
		go func() { done <- pinger.Run() }()

		select {
		case err := <-done:
			if err != nil {
				return 0, fmt.Errorf("ping %s: %w", host, err)
			}
		case <-ctx.Done():
			pinger.Stop()
			return 0, ctx.Err()
		}

		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			return 0, fmt.Errorf("ping %s: no reply", host)
		}
		return stats.AvgRtt, nil
	}
}
