// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/dmxstat/internal/logger"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

// Source supplies snapshots. changed is false when nothing happened since
// the previous call.
type Source interface {
	Snapshot() (s Snapshot, changed bool)
}

// PortSource reads snapshots from a receiving port. It keeps the last
// frame, so a snapshot always carries slot data once anything arrived.
// It consumes the port's DMX handoff buffer; it must be the only reader.
type PortSource struct {
	port *dmx.Port

	mu       sync.Mutex
	seq      uint64
	last     dmx.Frame
	active   bool
	received bool
}

// NewPortSource creates a source for port.
func NewPortSource(port *dmx.Port) *PortSource {
	return &PortSource{port: port}
}

// Snapshot implements Source.
func (p *PortSource) Snapshot() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, stats, ok := p.port.GetDmxAvailable()
	changed := ok || stats.Active != p.active
	if ok {
		p.last = *frame
		p.received = true
	}
	p.active = stats.Active
	if changed {
		p.seq++
	}

	s := Snapshot{
		Sequence:         p.seq,
		Active:           stats.Active,
		UpdatesPerSecond: stats.UpdatesPerSecond,
		Frames:           stats.Frames,
		TimingViolations: stats.TimingViolations,
		Overruns:         stats.Overruns,
		RDMFrames:        stats.RDMFrames,
	}
	if p.received {
		s.StartCode = p.last.StartCode()
		s.Slots = append([]byte(nil), p.last.Slots()...)
	}
	return s, changed
}

// Server streams one source to any number of websocket clients.
type Server struct {
	log      *logger.Log
	source   Source
	port     string
	interval time.Duration
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*websocket.Conn
	wg       sync.WaitGroup
}

// NewServer creates a server sending at most rate snapshots per second.
func NewServer(log *logger.Log, port string, source Source, rate int) *Server {
	if rate < 1 {
		rate = 1
	}
	return &Server{
		log:      log.Module("stream"),
		source:   source,
		port:     port,
		interval: time.Second / time.Duration(rate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*websocket.Conn),
	}
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	id := uuid.NewString()
	log := s.log.With(logger.Fields{"session": id, "remote": r.RemoteAddr})

	s.mu.Lock()
	s.sessions[id] = conn
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
		log.Info("session closed")
	}()
	log.Info("session opened")

	// Reads only detect the close; clients never send data.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, Hello{Session: id, Port: s.port, Rate: int(time.Second / s.interval)}); err != nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	first := true
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap, changed := s.source.Snapshot()
			if !changed && !first {
				continue
			}
			first = false
			if err := s.write(conn, snap); err != nil {
				log.WithError(err).Debug("write failed")
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.log.WithField("addr", addr).Info("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	for _, c := range s.sessions {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		c.Close()
	}
	s.mu.Unlock()

	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdown)
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
