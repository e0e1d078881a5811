package acpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/auth"
	"github.com/fleetmind/acpd/internal/protocol"
)

func testCreds() *auth.Credentials {
	return &auth.Credentials{
		Legacy: []string{"legacy-key"},
		Metadata: []auth.MetadataKey{
			{Key: "backend-key", AllowedRoles: []string{"backend"}, KeyID: "k1"},
		},
	}
}

func startTestServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	srv, err := NewServer(Config{}, testCreds(), nil, handler, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string, header map[string]string) *websocket.Conn {
	t.Helper()
	h := make(map[string][]string)
	for k, v := range header {
		h[k] = []string{v}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, method string, params any) map[string]any {
	t.Helper()
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := protocol.Encode(req)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(reply, &m); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return m
}

func TestServer_AuthenticateRegisterHeartbeatGetStatus(t *testing.T) {
	_, url := startTestServer(t, nil)
	conn := dial(t, url, nil)

	authResp := sendRequest(t, conn, protocol.MethodAgentAuthenticate, map[string]any{"api_key": "backend-key"})
	result, _ := authResp["result"].(map[string]any)
	if result == nil || result["success"] != true {
		t.Fatalf("authenticate reply = %v, want success", authResp)
	}

	regResp := sendRequest(t, conn, protocol.MethodAgentRegister, map[string]any{"role": "backend"})
	result = regResp["result"].(map[string]any)
	if result["success"] != true || result["role"] != "backend" {
		t.Fatalf("register reply = %v, want success with role=backend", regResp)
	}

	hbResp := sendRequest(t, conn, protocol.MethodHeartbeat, map[string]any{"timestamp": 1234})
	result = hbResp["result"].(map[string]any)
	if result["timestamp"] != float64(1234) {
		t.Fatalf("heartbeat reply = %v, want echoed timestamp", hbResp)
	}

	statusResp := sendRequest(t, conn, protocol.MethodGetStatus, map[string]any{})
	result = statusResp["result"].(map[string]any)
	if result["state"] != "connected" {
		t.Fatalf("getStatus reply = %v, want state=connected", statusResp)
	}
}

func TestServer_RegisterWithUnauthorizedRoleFailsGenerically(t *testing.T) {
	_, url := startTestServer(t, nil)
	conn := dial(t, url, nil)

	sendRequest(t, conn, protocol.MethodAgentAuthenticate, map[string]any{"api_key": "backend-key"})
	regResp := sendRequest(t, conn, protocol.MethodAgentRegister, map[string]any{"role": "security"})

	result := regResp["result"].(map[string]any)
	if result["success"] != false {
		t.Fatalf("expected registration for an unauthorized role to fail, got %v", regResp)
	}
	if _, hasRole := result["role"]; hasRole {
		t.Error("a failed registration response must not reveal which roles exist")
	}
}

func TestServer_UnauthenticatedRequestRejected(t *testing.T) {
	_, url := startTestServer(t, nil)
	conn := dial(t, url, nil)

	resp := sendRequest(t, conn, protocol.MethodGetStatus, map[string]any{})
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error response for unauthenticated request, got %v", resp)
	}
	if int32(errObj["code"].(float64)) != protocol.CodeAuthRequired {
		t.Errorf("error code = %v, want %d", errObj["code"], protocol.CodeAuthRequired)
	}
}

func TestServer_HandshakeHeaderAuthSkipsExplicitAuthenticate(t *testing.T) {
	_, url := startTestServer(t, nil)
	conn := dial(t, url, map[string]string{"X-API-Key": "legacy-key"})

	resp := sendRequest(t, conn, protocol.MethodGetStatus, map[string]any{})
	if _, isErr := resp["error"]; isErr {
		t.Fatalf("expected handshake header auth to authenticate the connection, got %v", resp)
	}
}

func TestServer_ForwardsUnknownMethodToHandler(t *testing.T) {
	handler := func(ctx context.Context, conn *Connection, msg *protocol.Message) (*protocol.Message, error) {
		return protocol.NewResponse(*msg.ID, map[string]any{"echoed": msg.Method})
	}
	_, url := startTestServer(t, handler)
	conn := dial(t, url, map[string]string{"X-API-Key": "legacy-key"})

	resp := sendRequest(t, conn, "task.execute", map[string]any{"task": "do the thing"})
	result := resp["result"].(map[string]any)
	if result["echoed"] != "task.execute" {
		t.Fatalf("handler forward reply = %v", resp)
	}
}

func TestServer_HandlerPanicBecomesInternalError(t *testing.T) {
	handler := func(ctx context.Context, conn *Connection, msg *protocol.Message) (*protocol.Message, error) {
		panic("boom")
	}
	_, url := startTestServer(t, handler)
	conn := dial(t, url, map[string]string{"X-API-Key": "legacy-key"})

	resp := sendRequest(t, conn, "task.execute", map[string]any{})
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected a panic to surface as an error response, got %v", resp)
	}
	if int32(errObj["code"].(float64)) != protocol.CodeInternal {
		t.Errorf("error code = %v, want %d", errObj["code"], protocol.CodeInternal)
	}
}

func TestServer_SendRequestRoundTrip(t *testing.T) {
	srv, url := startTestServer(t, nil)
	conn := dial(t, url, map[string]string{"X-API-Key": "backend-key"})

	sendRequest(t, conn, protocol.MethodAgentRegister, map[string]any{"role": "backend"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil || msg.Classify() != protocol.ShapeRequest {
			return
		}
		resp, _ := protocol.NewResponse(*msg.ID, map[string]any{"output": "42", "success": true})
		out, _ := protocol.Encode(resp)
		conn.WriteMessage(websocket.TextMessage, out)
	}()

	agents := srv.FindAgentsByRole("backend")
	if len(agents) != 1 {
		t.Fatalf("FindAgentsByRole() = %d agents, want 1", len(agents))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := srv.SendRequest(ctx, agents[0], protocol.MethodTaskExecute, map[string]any{"task": "x"}, time.Second)
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	<-done

	var result map[string]any
	json.Unmarshal(resp.Result, &result)
	if result["output"] != "42" {
		t.Errorf("SendRequest() result = %v, want output=42", result)
	}
}

func TestServer_Broadcast(t *testing.T) {
	srv, url := startTestServer(t, nil)
	conn := dial(t, url, map[string]string{"X-API-Key": "legacy-key"})
	sendRequest(t, conn, protocol.MethodGetStatus, map[string]any{}) // ensure connection is registered server-side

	res, err := srv.Broadcast("announcement", "hello agents")
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("Broadcast().Sent = %d, want 1", res.Sent)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	msg, err := protocol.Decode(raw)
	if err != nil || msg.Method != protocol.MethodBroadcast {
		t.Fatalf("expected a broadcast notification, got %+v (err=%v)", msg, err)
	}
}
