package connector

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pairsight/pairsight/internal/config"
)

// Websocket is for websocket connection.
type Websocket struct {
	Conn net.Conn
	Cfg  *config.WS

	// rd reads any frame bytes the server sent during the handshake before
	// continuing with the connection itself.
	rd io.Reader
}

// NewWebsocket creates a new websocket connection to the given stream url.
func NewWebsocket(appCtx context.Context, cfg *config.WS, url string) (Websocket, error) {
	var ctx context.Context
	if cfg.ConnTimeoutSec > 0 {
		timeoutCtx, cancel := context.WithTimeout(appCtx, time.Duration(cfg.ConnTimeoutSec)*time.Second)
		ctx = timeoutCtx
		defer cancel()
	} else {
		ctx = appCtx
	}
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return Websocket{}, err
	}
	// Dial may return unprocessed frame bytes buffered while reading the
	// handshake response; losing them desyncs the frame stream.
	var rd io.Reader = conn
	if br != nil {
		if n := br.Buffered(); n > 0 {
			buffered, _ := br.Peek(n)
			pending := make([]byte, n)
			copy(pending, buffered)
			rd = io.MultiReader(bytes.NewReader(pending), conn)
		}
		ws.PutReader(br)
	}
	websocket := Websocket{Conn: conn, Cfg: cfg, rd: rd}
	return websocket, nil
}

// Write writes data frame on websocket connection.
func (w *Websocket) Write(data []byte) error {
	err := wsutil.WriteClientText(w.Conn, data)
	if err != nil {
		return err
	}
	return nil
}

// Read reads data frame from websocket connection.
func (w *Websocket) Read() ([]byte, error) {
	if w.Cfg.ReadTimeoutSec > 0 {
		err := w.Conn.SetReadDeadline(time.Now().Add(time.Duration(w.Cfg.ReadTimeoutSec) * time.Second))
		if err != nil {
			return nil, err
		}
	}
	data, err := wsutil.ReadServerText(struct {
		io.Reader
		io.Writer
	}{w.rd, w.Conn})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the underlying connection. Any blocked Read or Write unblocks
// with an error after this returns.
func (w *Websocket) Close() error {
	return w.Conn.Close()
}
