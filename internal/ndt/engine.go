package ndt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"despeed/internal/api"
	"despeed/internal/domain"
	"despeed/internal/proxy"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	Subprotocol = "net.measurementlab.ndt.v7"

	DefaultWindow      = 10 * time.Second
	DefaultHardCap     = 15 * time.Second
	DefaultTick        = time.Millisecond
	DefaultChunkSize   = 16 << 10
	DefaultMaxBuffered = 1 << 20

	handshakeTimeout = 30 * time.Second
	closeWriteWait   = time.Second
)

// StreamConn is the subset of *websocket.Conn used by the tests.
type StreamConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type DialFunc func(ctx context.Context, url string, tunnel *proxy.Tunnel) (StreamConn, error)

// Engine runs the ndt7 download and upload tests against one server.
type Engine struct {
	// Window is how long each direction is measured.
	Window time.Duration
	// HardCap bounds a direction when the server stops responding.
	HardCap     time.Duration
	Tick        time.Duration
	ChunkSize   int
	MaxBuffered int

	dial DialFunc
	now  func() time.Time
}

func NewEngine() *Engine {
	return &Engine{
		Window:      DefaultWindow,
		HardCap:     DefaultHardCap,
		Tick:        DefaultTick,
		ChunkSize:   DefaultChunkSize,
		MaxBuffered: DefaultMaxBuffered,
		dial:        DialWebsocket,
		now:         time.Now,
	}
}

// Measure runs download then upload. It never fails: a direction that could not be
// measured reports 0.
func (e *Engine) Measure(ctx context.Context, server domain.MeasurementServer, tunnel *proxy.Tunnel) domain.Throughput {
	log.Info("Starting download test", "machine", server.Machine, "via", tunnel.String())
	download := e.Download(ctx, server.DownloadURL, tunnel)
	log.Info("Download finished", "mbps", fmt.Sprintf("%.2f", download))

	if ctx.Err() != nil {
		return domain.Throughput{Server: server, DownloadMbps: download}
	}

	log.Info("Starting upload test", "machine", server.Machine, "via", tunnel.String())
	upload := e.Upload(ctx, server.UploadURL, tunnel)
	log.Info("Upload finished", "mbps", fmt.Sprintf("%.2f", upload))

	return domain.Throughput{
		Server:       server,
		DownloadMbps: download,
		UploadMbps:   upload,
	}
}

// DialWebsocket opens an ndt7 connection through tunnel (nil means direct).
func DialWebsocket(ctx context.Context, url string, tunnel *proxy.Tunnel) (StreamConn, error) {
	dialer := tunnel.WebsocketDialer(handshakeTimeout, Subprotocol)

	header := http.Header{}
	for key, value := range api.BrowserHeaders() {
		header.Set(key, value)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return conn, nil
}

// isCloseError reports whether err means the connection ended rather than failed.
func isCloseError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent)
}

// closer sends a close frame and closes conn exactly once.
func closer(conn StreamConn) (closeConn func(), closed <-chan struct{}) {
	done := make(chan struct{})
	var once sync.Once

	return func() {
		once.Do(func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
			_ = conn.Close()
			close(done)
		})
	}, done
}
