package acpclient

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/auth"
	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
)

func startServer(t *testing.T, handler acpserver.Handler) (*acpserver.Server, string) {
	t.Helper()
	srv, err := acpserver.NewServer(acpserver.Config{}, &auth.Credentials{Legacy: []string{"worker-key"}}, nil, handler, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return srv, "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

func waitForConnection(t *testing.T, srv *acpserver.Server) model.AgentID {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		agents := srv.ConnectedAgents()
		if len(agents) == 1 {
			return agents[0].AgentID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a connection")
	return model.NilAgentID
}

func TestClient_ConnectsAuthenticatesAndHeartbeats(t *testing.T) {
	srv, url := startServer(t, nil)

	c := NewClient(Config{
		ServerURL:         url,
		APIKey:            "worker-key",
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == Connected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if c.State() != Connected {
		t.Fatalf("client state = %v, want Connected", c.State())
	}

	waitForConnection(t, srv)

	// Give the heartbeat loop a couple of ticks to prove the round trip
	// keeps succeeding rather than erroring the session out.
	time.Sleep(150 * time.Millisecond)
	if c.State() != Connected {
		t.Fatalf("client state after heartbeats = %v, want still Connected", c.State())
	}
}

func TestClient_HandlerRespondsToServerRequest(t *testing.T) {
	var sawMethod string
	handler := func(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
		sawMethod = msg.Method
		return protocol.NewResponse(*msg.ID, map[string]any{"output": "done", "success": true})
	}

	srv, url := startServer(t, nil)
	c := NewClient(Config{
		ServerURL:         url,
		APIKey:            "worker-key",
		HeartbeatInterval: time.Hour,
		ReconnectInterval: 10 * time.Millisecond,
	}, handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	agentID := waitForConnection(t, srv)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	resp, err := srv.SendRequest(reqCtx, agentID, protocol.MethodTaskExecute, map[string]any{"task": "ping"}, time.Second)
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	if sawMethod != protocol.MethodTaskExecute {
		t.Errorf("handler saw method %q, want %q", sawMethod, protocol.MethodTaskExecute)
	}

	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result["output"] != "done" {
		t.Errorf("result = %v, want output=done", result)
	}
}
