package rpcapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
)

// ListenTCP accepts newline-delimited JSON-RPC requests on addr until ctx
// is canceled, mirroring the WebSocket surface's method dispatch for
// clients that speak raw TCP instead of upgrading to a WebSocket.
func (s *Server) ListenTCP(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.WithField("addr", addr).Info("rpcapi tcp listener started")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.WithError(err).Warn("tcp accept failed")
				continue
			}
		}
		go s.serveTCPConn(ctx, conn)
	}
}

func (s *Server) serveTCPConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	clientID := conn.RemoteAddr().String()

	subID, events := s.bus.Subscribe()
	defer s.bus.Unsubscribe(subID)

	done := make(chan struct{})
	go s.tcpWriteLoop(conn, events, done)
	defer close(done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleRequestBytes(ctx, clientID, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.WithError(err).WithField("client", clientID).Debug("tcp read error")
	}
}

func (s *Server) tcpWriteLoop(conn net.Conn, events <-chan Notification, done <-chan struct{}) {
	enc := json.NewEncoder(conn)
	for {
		select {
		case <-done:
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(n); err != nil {
				return
			}
		}
	}
}
