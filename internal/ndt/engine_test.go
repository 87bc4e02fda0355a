package ndt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"despeed/internal/domain"

	"github.com/gorilla/websocket"
)

func newNDTServer(t *testing.T, uploadedBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}

	mux := http.NewServeMux()
	mux.HandleFunc("/ndt/v7/download", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conn.Subprotocol() != Subprotocol {
			return
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"ConnectionInfo":{}}`))
		chunk := make([]byte, 8192)
		for {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/ndt/v7/upload", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				uploadedBytes.Add(int64(len(data)))
			}
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestMeasureAgainstWebsocketServer(t *testing.T) {
	var uploaded atomic.Int64
	server := newNDTServer(t, &uploaded)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	engine := testEngine()
	engine.Window = 200 * time.Millisecond

	measurement := domain.MeasurementServer{
		Machine:     "local",
		DownloadURL: wsURL + "/ndt/v7/download",
		UploadURL:   wsURL + "/ndt/v7/upload",
	}

	throughput := engine.Measure(context.Background(), measurement, nil)
	if throughput.DownloadMbps <= 0 {
		t.Fatalf("DownloadMbps = %f, want > 0", throughput.DownloadMbps)
	}
	if throughput.UploadMbps <= 0 {
		t.Fatalf("UploadMbps = %f, want > 0", throughput.UploadMbps)
	}
	if throughput.Server != measurement {
		t.Fatalf("Server = %+v, want %+v", throughput.Server, measurement)
	}
	if uploaded.Load() == 0 {
		t.Fatal("server received no upload bytes")
	}
}

func TestMeasureUnreachableServerReportsZero(t *testing.T) {
	engine := testEngine()
	measurement := domain.MeasurementServer{
		DownloadURL: "ws://127.0.0.1:1/ndt/v7/download",
		UploadURL:   "ws://127.0.0.1:1/ndt/v7/upload",
	}

	throughput := engine.Measure(context.Background(), measurement, nil)
	if throughput.DownloadMbps != 0 || throughput.UploadMbps != 0 {
		t.Fatalf("Measure = %+v, want zero rates", throughput)
	}
}

func TestDialWebsocketNegotiatesSubprotocol(t *testing.T) {
	var uploaded atomic.Int64
	server := newNDTServer(t, &uploaded)

	conn, err := DialWebsocket(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http")+"/ndt/v7/upload", nil)
	if err != nil {
		t.Fatalf("DialWebsocket returned error: %v", err)
	}
	defer conn.Close()

	wsConn, ok := conn.(*websocket.Conn)
	if !ok {
		t.Fatalf("DialWebsocket returned %T, want *websocket.Conn", conn)
	}
	if wsConn.Subprotocol() != Subprotocol {
		t.Fatalf("Subprotocol = %q, want %q", wsConn.Subprotocol(), Subprotocol)
	}
}
