package ndt

import (
	"context"
	crand "crypto/rand"
	"sync/atomic"
	"time"

	"despeed/internal/domain"
	"despeed/internal/proxy"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Upload measures the send rate in Mbps. Sends are paced by Tick and skipped while more
// than MaxBuffered bytes are queued but not yet written.
func (e *Engine) Upload(ctx context.Context, url string, tunnel *proxy.Tunnel) float64 {
	conn, err := e.dial(ctx, url, tunnel)
	if err != nil {
		log.Error("Upload test failed", "error", err)
		return 0
	}

	mbps, sample := e.runUpload(ctx, conn)
	log.Debug("Upload sample", "bytes", sample.TotalBytes, "elapsed", sample.Elapsed)
	return mbps
}

func (e *Engine) runUpload(ctx context.Context, conn StreamConn) (float64, domain.SpeedSample) {
	payload := make([]byte, e.ChunkSize)
	_, _ = crand.Read(payload)

	m := newMeter(e.now)
	res := newResult()
	closeConn, closed := closer(conn)
	defer closeConn()

	stop := context.AfterFunc(ctx, func() {
		res.resolve(m.last())
		closeConn()
	})
	defer stop()

	var buffered atomic.Int64
	queue := make(chan []byte, e.MaxBuffered/e.ChunkSize+1)

	var g errgroup.Group

	g.Go(func() error {
		ticker := time.NewTicker(e.Tick)
		defer ticker.Stop()
		hardCap := time.NewTimer(e.HardCap)
		defer hardCap.Stop()

		for {
			select {
			case <-closed:
				return nil

			case <-hardCap.C:
				res.resolve(m.closeRate())
				closeConn()
				return nil

			case <-ticker.C:
				if m.elapsed() >= e.Window {
					res.resolve(m.finish())
					closeConn()
					return nil
				}

				if buffered.Load() >= int64(e.MaxBuffered) {
					continue
				}

				buffered.Add(int64(len(payload)))
				m.add(len(payload))
				select {
				case queue <- payload:
				case <-closed:
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-closed:
				return nil
			case chunk := <-queue:
				if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
					select {
					case <-closed:
						return nil
					default:
					}
					if isCloseError(err) {
						res.resolve(m.closeRate())
					} else {
						log.Error("Upload test error", "error", err)
						res.resolve(m.last())
					}
					closeConn()
					return err
				}
				buffered.Add(-int64(len(chunk)))
			}
		}
	})

	g.Go(func() error {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case <-closed:
					return nil
				default:
				}
				if isCloseError(err) {
					res.resolve(m.closeRate())
				} else {
					log.Error("Upload test error", "error", err)
					res.resolve(m.last())
				}
				closeConn()
				return err
			}
		}
	})

	_ = g.Wait()
	return res.value(), m.sample()
}
