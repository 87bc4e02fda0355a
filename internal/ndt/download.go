package ndt

import (
	"context"

	"despeed/internal/domain"
	"despeed/internal/proxy"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Download measures the receive rate in Mbps. It returns 0 when the connection fails or
// closes before the window elapsed.
func (e *Engine) Download(ctx context.Context, url string, tunnel *proxy.Tunnel) float64 {
	conn, err := e.dial(ctx, url, tunnel)
	if err != nil {
		log.Error("Download test failed", "error", err)
		return 0
	}

	mbps, sample := e.runDownload(ctx, conn)
	log.Debug("Download sample", "bytes", sample.TotalBytes, "elapsed", sample.Elapsed)
	return mbps
}

func (e *Engine) runDownload(ctx context.Context, conn StreamConn) (float64, domain.SpeedSample) {
	m := newMeter(e.now)
	res := newResult()
	closeConn, closed := closer(conn)
	defer closeConn()

	stop := context.AfterFunc(ctx, func() {
		res.resolve(m.last())
		closeConn()
	})
	defer stop()

	_ = conn.SetReadDeadline(e.now().Add(e.HardCap))

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closed:
			default:
				if !isCloseError(err) {
					log.Error("Download test error", "error", err)
				}
				res.resolve(m.last())
			}
			break
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		if elapsed := m.add(len(data)); elapsed >= e.Window {
			res.resolve(m.finish())
			closeConn()
			break
		}
	}

	return res.value(), m.sample()
}
