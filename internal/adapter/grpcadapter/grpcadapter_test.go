package grpcadapter

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/deepampatel/foreman/internal/adapter"
)

func TestJSONCodec_RoundTrips(t *testing.T) {
	c := jsonCodec{}
	req := wireTurnRequest{Team: "t1", Agent: "a1", Input: "do the thing"}
	data, err := c.Marshal(&req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got wireTurnRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != req {
		t.Fatalf("Unmarshal = %+v, want %+v", got, req)
	}
	if c.Name() != codecName {
		t.Fatalf("Name() = %q, want %q", c.Name(), codecName)
	}
}

func TestClientServer_RunTurn_ForwardsEventsAndResult(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	t.Cleanup(func() { _ = lis.Close() })

	grpcServer := grpc.NewServer()
	srv := &Server{Adapter: adapter.StubAdapter{}}
	grpcServer.RegisterService(srv.ServiceDesc(), srv)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	client := &Client{
		Addr: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithContextDialer(dialer),
		},
	}

	var events []adapter.Event
	result, err := client.RunTurn(context.Background(), adapter.TurnRequest{
		Team:  "acme",
		Agent: "agent-1",
		Input: "fix the bug",
	}, func(ev adapter.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Output != "stub: ok" {
		t.Fatalf("result.Output = %q, want %q", result.Output, "stub: ok")
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3 (turn_started, agent_activity, turn_ended)", len(events))
	}
	if events[0].Type != "turn_started" || events[len(events)-1].Type != "turn_ended" {
		t.Fatalf("unexpected event sequence: %+v", events)
	}
}

func TestClient_Name(t *testing.T) {
	c := &Client{}
	if c.Name() != "grpc" {
		t.Fatalf("Name() = %q, want grpc", c.Name())
	}
}
