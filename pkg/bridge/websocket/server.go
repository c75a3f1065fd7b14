package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/modemmux/pkg/framework"
	"github.com/robotalks/modemmux/pkg/mux"
)

// PathPrefix is where channels are served: /channels/<name>.
const PathPrefix = "/channels/"

// DefaultPollInterval is how often an idle connection checks for closing.
const DefaultPollInterval = 100 * time.Millisecond

// Server exposes the channels of a Multiplexer as websocket endpoints.
// Each message received is written to the channel and inbound channel
// bytes are sent as binary messages. A connection claims its channel, so
// a channel held by another connection or bridge is refused.
type Server struct {
	Addr         string
	Mux          *mux.Multiplexer
	PollInterval time.Duration
}

// NewServer creates a Server.
func NewServer(addr string, m *mux.Multiplexer) *Server {
	return &Server{Addr: addr, Mux: m, PollInterval: DefaultPollInterval}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.Handle(PathPrefix, websocket.Handler(s.serve))
	return router
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}
	glog.Infof("websocket listening on %s", s.Addr)
	err := fx.RunWithContextCancel(ctx, func() { srv.Close() }, srv.ListenAndServe)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) serve(ws *websocket.Conn) {
	ws.PayloadType = websocket.BinaryFrame
	conn := New(ws)
	defer conn.Close()

	name := strings.TrimPrefix(ws.Request().URL.Path, PathPrefix)
	ch, err := s.Mux.Channel(name)
	if err != nil {
		glog.Warningf("websocket %s: %v", ws.Request().RemoteAddr, err)
		return
	}
	owner := "websocket:" + ws.Request().RemoteAddr
	if err := ch.Claim(owner); err != nil {
		glog.Warningf("websocket %s: %v", ws.Request().RemoteAddr, err)
		return
	}
	defer ch.Release(owner)
	if err := ch.Open(); err != nil {
		glog.Warningf("websocket %s: open %s: %v", ws.Request().RemoteAddr, name, err)
		return
	}
	defer ch.Close()
	glog.V(1).Infof("websocket %s: attached %s", ws.Request().RemoteAddr, name)

	done := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(conn, ch, done)
	}()
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			glog.V(1).Infof("websocket %s: detached %s: %v", ws.Request().RemoteAddr, name, err)
			break
		}
		if _, err := ch.Write(msg); err != nil {
			glog.Warningf("websocket %s: write %s: %v", ws.Request().RemoteAddr, name, err)
		}
	}
	close(done)
	<-pumpDone
}

// pump forwards inbound channel bytes until done or the channel closes.
func (s *Server) pump(conn *Conn, ch *mux.Channel, done <-chan struct{}) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	buf := make([]byte, 4096)
	for {
		select {
		case <-done:
			return
		default:
		}
		if !ch.WaitForData(interval) {
			if !ch.IsOpen() {
				conn.Close()
				return
			}
			continue
		}
		n, err := ch.ReadAvailable(buf)
		if n > 0 {
			if err := conn.WriteMessage(buf[:n]); err != nil {
				return
			}
		}
		if err != nil {
			conn.Close()
			return
		}
	}
}
