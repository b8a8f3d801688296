// Package rpc carries the gateway-engine event stream over gRPC. There is no
// generated code: the single bidi method moves event.Frame values through a
// JSON codec, so the service descriptor is written by hand.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/event"
)

const serviceName = "ambonmud.v1.EventStream"

// streamSendBuffer bounds the per-gateway outbound queue. A gateway that
// cannot drain it loses events rather than stalling the pump.
const streamSendBuffer = 1024

// Server is the engine side of the stream. Inbound frames from gateways are
// decoded into the engine's inbound bus; everything the engine emits is
// fanned out to every connected gateway, which filters by its own sessions.
type Server struct {
	log *zap.Logger
	in  bus.Inbound
	out *bus.LocalOutbound

	grpcServer *grpc.Server

	mu      sync.Mutex
	streams map[uint64]chan event.Frame
	nextID  uint64
}

func NewServer(in bus.Inbound, out *bus.LocalOutbound, log *zap.Logger) *Server {
	s := &Server{
		log:     log.Named("rpc"),
		in:      in,
		out:     out,
		streams: make(map[uint64]chan event.Frame),
	}
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Events",
			Handler:       eventsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).events(stream)
}

// Serve accepts gateway streams on lis until ctx is cancelled. Blocking call.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pumpOutbound(pumpCtx)
	go func() {
		<-ctx.Done()
		s.grpcServer.GracefulStop()
	}()
	s.log.Info("event stream serving", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// pumpOutbound drains the engine's outbound bus into every live stream.
func (s *Server) pumpOutbound(ctx context.Context) {
	for {
		ev, err := s.out.Receive(ctx)
		if err != nil {
			return
		}
		frame, err := event.EncodeOutbound(ev)
		if err != nil {
			s.log.Error("outbound frame encode failed", zap.Error(err))
			continue
		}
		s.mu.Lock()
		for sid, ch := range s.streams {
			select {
			case ch <- frame:
			default:
				s.log.Warn("gateway stream send queue full, frame dropped",
					zap.Uint64("stream", sid),
					zap.String("type", frame.Type))
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) addStream() (uint64, chan event.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ch := make(chan event.Frame, streamSendBuffer)
	s.streams[s.nextID] = ch
	return s.nextID, ch
}

func (s *Server) removeStream(sid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, sid)
}

func (s *Server) events(stream grpc.ServerStream) error {
	sid, sendCh := s.addStream()
	defer s.removeStream(sid)
	s.log.Info("gateway stream opened", zap.Uint64("stream", sid))

	ctx := stream.Context()
	sendErr := make(chan error, 1)
	go func() {
		for {
			select {
			case frame := <-sendCh:
				if err := stream.SendMsg(&frame); err != nil {
					sendErr <- err
					return
				}
			case <-ctx.Done():
				sendErr <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case err := <-sendErr:
			s.log.Info("gateway stream closed", zap.Uint64("stream", sid), zap.Error(err))
			return err
		default:
		}
		var frame event.Frame
		if err := stream.RecvMsg(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("gateway stream closed", zap.Uint64("stream", sid))
				return nil
			}
			return err
		}
		ev, err := event.DecodeInbound(frame)
		if err != nil {
			s.log.Warn("undecodable inbound frame", zap.Error(err))
			continue
		}
		if err := s.in.Send(ctx, ev); err != nil {
			return fmt.Errorf("inbound bus: %w", err)
		}
	}
}

// Client is the gateway side of the stream.
type Client struct {
	conn *grpc.ClientConn
}

func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// EventStream is one live bidi stream. Send and Recv may be used from
// different goroutines, but neither is safe for concurrent use with itself.
type EventStream struct {
	grpc.ClientStream
}

func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+serviceName+"/Events")
	if err != nil {
		return nil, err
	}
	return &EventStream{ClientStream: cs}, nil
}

func (s *EventStream) Send(f event.Frame) error {
	return s.SendMsg(&f)
}

func (s *EventStream) Recv() (event.Frame, error) {
	var f event.Frame
	err := s.RecvMsg(&f)
	return f, err
}
