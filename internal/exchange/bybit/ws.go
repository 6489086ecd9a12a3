package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
)

const (
	reconnectDelay = 5 * time.Second
	keepAlive      = 20 * time.Second
	writeWait      = time.Second
)

// runWebSocket keeps a public V5 stream alive: dial, subscribe, read until
// the connection drops, then back off and reconnect until ctx is done.
// onConn receives the live connection (or nil once it is gone) so the owner
// can close it from outside the read loop.
func runWebSocket(ctx context.Context, url string, topics []string, log *logger.Entry, handler func(string) error, onConn func(*websocket.Conn)) {
	dialer := websocket.DefaultDialer
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithError(err).WithField("url", url).Warn("failed to connect to bybit websocket")
			if waitForReconnect(ctx, reconnectDelay) {
				return
			}
			continue
		}
		if onConn != nil {
			onConn(conn)
		}

		if err := sendSubscription(conn, topics); err != nil {
			log.WithError(err).WithField("url", url).Warn("failed to subscribe to bybit topics")
			if onConn != nil {
				onConn(nil)
			}
			conn.Close()
			if waitForReconnect(ctx, reconnectDelay) {
				return
			}
			continue
		}

		pingCancel := startPingLoop(ctx, conn, keepAlive, log)

		if err := readMessages(ctx, conn, handler); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("url", url).Warn("bybit websocket read loop ended")
		}

		pingCancel()
		if onConn != nil {
			onConn(nil)
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if waitForReconnect(ctx, reconnectDelay) {
			return
		}
	}
}

func sendSubscription(conn *websocket.Conn, topics []string) error {
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler func(string) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			_ = handler(string(msg))
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// startPingLoop sends the application-level ping op the V5 public streams
// expect. Protocol-level pings do not keep a bybit stream alive.
func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		ping := struct {
			Op string `json:"op"`
		}{Op: "ping"}
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ping); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
