package grpcadapter

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/deepampatel/foreman/internal/adapter"
)

// Server exposes an adapter.Adapter over the same foreman-json codec Client
// speaks, registered by hand against grpc.ServiceDesc since no
// protoc-generated registration function exists for this wire format.
type Server struct {
	Adapter adapter.Adapter
}

func (s *Server) runTurn(_ any, stream grpc.ServerStream) error {
	var req wireTurnRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	if s.Adapter == nil {
		return status.Error(codes.Internal, "grpcadapter: no adapter configured")
	}
	aReq := adapter.TurnRequest{
		Team:      req.Team,
		Agent:     req.Agent,
		TaskID:    req.TaskID,
		Input:     req.Input,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	result, err := s.Adapter.RunTurn(stream.Context(), aReq, func(ev adapter.Event) {
		_ = stream.SendMsg(&wireEnvelope{Event: &ev})
	})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(&wireEnvelope{Result: &result})
}

// ServiceDesc registers Server against a *grpc.Server: grpcServer.RegisterService(s.ServiceDesc(), s).
func (s *Server) ServiceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: "foreman.adapter.v1.AgentRuntime",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "RunTurn",
				Handler:       func(srv any, stream grpc.ServerStream) error { return srv.(*Server).runTurn(nil, stream) },
				ServerStreams: true,
			},
		},
	}
}
