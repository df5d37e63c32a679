package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/bus"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/security/signing"
)

func postJSON(t *testing.T, url, token string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestServeEndToEnd(t *testing.T) {
	cfg := loadConfig(t)
	c := buildRuntime(t, cfg, runtime.ScopeFull)
	t.Cleanup(func() { _ = c.Close() })
	srv := startServer(t, c)

	resp, err := http.Get(srv.apiURL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := postJSON(t, srv.apiURL+"/auth/token", "", map[string]string{
		"username": cfg.Auth.AdminUser,
		"password": cfg.Auth.AdminPassword,
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	status, body = postJSON(t, srv.apiURL+"/tasks", token, map[string]any{"request": "send an email", "data": map[string]any{"subject": "Quarterly"}})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["summary"], "email_agent")

	status, _ = postJSON(t, srv.apiURL+"/tasks", "", map[string]any{"request": "send an email"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestBusDeliversSignedMessages(t *testing.T) {
	cfg := loadConfig(t)
	c := buildRuntime(t, cfg, runtime.ScopeFull)
	t.Cleanup(func() { _ = c.Close() })
	srv := startServer(t, c)
	ctx := context.Background()

	client := bus.NewClient(srv.busURL, c.Signer)
	sent, err := client.Send(ctx, bus.Message{
		Sender:    "email_agent",
		Recipient: "expense_agent",
		Protocol:  bus.ProtocolExpenseTask,
		TaskID:    "task-1",
		Payload:   map[string]any{"action": "review", "report_id": "rpt-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "expense_agent", sent.Recipient)

	inbox, err := client.Inbox(ctx, "expense_agent")
	require.NoError(t, err)
	require.Equal(t, 1, inbox.MessageCount)
	assert.Equal(t, "task-1", inbox.Messages[0].TaskID)

	foreign, err := signing.NewService("not-the-bus-secret", audit.Nop())
	require.NoError(t, err)
	_, err = bus.NewClient(srv.busURL, foreign).Send(ctx, bus.Message{
		Sender: "intruder", Recipient: "expense_agent", Protocol: bus.ProtocolCustom, TaskID: "x",
	})
	assert.ErrorIs(t, err, wardenErrors.ErrUnauthenticated)
}
