package grpcadapter

import (
	"context"
	"io"

	"github.com/deepampatel/foreman/internal/adapter"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const runTurnMethod = "/foreman.adapter.v1.AgentRuntime/RunTurn"

// wireTurnRequest and wireEnvelope are the JSON wire shapes carried over the
// foreman-json codec; they mirror adapter.TurnRequest/Event/TurnResult
// field-for-field so no translation logic is needed beyond marshaling.
type wireTurnRequest struct {
	Team      string `json:"team"`
	Agent     string `json:"agent"`
	TaskID    *int64 `json:"task_id,omitempty"`
	Input     string `json:"input"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type wireEnvelope struct {
	Event  *adapter.Event      `json:"event,omitempty"`
	Result *adapter.TurnResult `json:"result,omitempty"`
}

// Client is an adapter.Adapter that runs turns against a remote gRPC
// AgentRuntime service reachable at Addr.
type Client struct {
	Addr        string
	DialOptions []grpc.DialOption
}

var _ adapter.Adapter = (*Client)(nil)

func (c *Client) Name() string { return "grpc" }

// RunTurn dials Addr, opens a server-streaming RunTurn call carried over the
// foreman-json codec, and forwards every event on the stream to emit until
// the server sends a final result or the stream ends.
func (c *Client) RunTurn(ctx context.Context, req adapter.TurnRequest, emit func(adapter.Event)) (adapter.TurnResult, error) {
	opts := c.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(c.Addr, opts...)
	if err != nil {
		return adapter.TurnResult{}, err
	}
	defer func() { _ = conn.Close() }()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, runTurnMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return adapter.TurnResult{}, err
	}

	wireReq := wireTurnRequest{
		Team:      req.Team,
		Agent:     req.Agent,
		TaskID:    req.TaskID,
		Input:     req.Input,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if err := stream.SendMsg(&wireReq); err != nil {
		return adapter.TurnResult{}, err
	}
	if err := stream.CloseSend(); err != nil {
		return adapter.TurnResult{}, err
	}

	var result adapter.TurnResult
	for {
		var env wireEnvelope
		if err := stream.RecvMsg(&env); err != nil {
			if err == io.EOF {
				return result, nil
			}
			return adapter.TurnResult{}, err
		}
		switch {
		case env.Event != nil:
			emit(*env.Event)
		case env.Result != nil:
			result = *env.Result
			return result, nil
		}
	}
}
