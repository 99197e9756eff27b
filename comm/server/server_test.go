package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dosgo/btLocker/comm"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv    *httptest.Server
	client *comm.Client
	hub    *comm.Hub
}

func newFixture(t *testing.T, drv comm.Driver) *fixture {
	t.Helper()
	hub := comm.NewHub(nil)
	client := comm.NewClient("LOCKER-01", drv, hub, comm.WithRetryInterval(time.Millisecond))
	srv := httptest.NewServer(NewRouter(client, hub, nil))
	t.Cleanup(func() {
		client.Disconnect()
		srv.Close()
	})
	return &fixture{srv: srv, client: client, hub: hub}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (f *fixture) waitConnected(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.client.State() == comm.StateConnected },
		2*time.Second, 5*time.Millisecond)
}

type lookupFailDriver struct{ err error }

func (d lookupFailDriver) Kind() string { return "fail" }
func (d lookupFailDriver) Lookup(string) (comm.Endpoint, error) {
	return nil, d.err
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &comm.SimDriver{})
	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStateAndConnect(t *testing.T) {
	f := newFixture(t, &comm.SimDriver{})

	resp, err := http.Get(f.srv.URL + "/api/v1/state")
	require.NoError(t, err)
	var st StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, StateResponse{Target: "LOCKER-01", State: "none"}, st)

	resp, body := f.post(t, "/api/v1/connect", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "LOCKER-01", body["target"])
	f.waitConnected(t)

	resp, body = f.post(t, "/api/v1/disconnect", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "none", body["state"])
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{comm.ErrTransportUnavailable, http.StatusServiceUnavailable},
		{comm.ErrTargetNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		f := newFixture(t, lookupFailDriver{err: tt.err})
		resp, body := f.post(t, "/api/v1/connect", "")
		assert.Equal(t, tt.code, resp.StatusCode)
		assert.Contains(t, body["error"], tt.err.Error())
		assert.Equal(t, comm.StateNone, f.client.State())
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t, &comm.SimDriver{})

	resp, _ := f.post(t, "/api/v1/commands", `{"text":"O01T"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "not connected yet")

	require.NoError(t, f.client.Connect())
	f.waitConnected(t)

	resp, _ = f.post(t, "/api/v1/commands", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.post(t, "/api/v1/commands", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.post(t, "/api/v1/commands", `{"text":"LOW"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "LOW", body["command"])
}

func TestLockerActions(t *testing.T) {
	f := newFixture(t, &comm.SimDriver{})
	require.NoError(t, f.client.Connect())
	f.waitConnected(t)

	tests := []struct {
		path string
		code int
		cmd  string
	}{
		{"/api/v1/lockers/01/checkin", http.StatusAccepted, "O01T"},
		{"/api/v1/lockers/7/checkout", http.StatusAccepted, "O 7R"},
		{"/api/v1/lockers/12/door", http.StatusAccepted, "D12"},
		{"/api/v1/lockers/3/empty", http.StatusAccepted, "E 3"},
		{"/api/v1/lockers/123/door", http.StatusBadRequest, ""},
		{"/api/v1/lockers/01/explode", http.StatusBadRequest, ""},
		{"/api/v1/battery/low", http.StatusAccepted, "LOW"},
		{"/api/v1/battery/high", http.StatusAccepted, "HIGH"},
		{"/api/v1/battery/empty", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		resp, body := f.post(t, tt.path, "")
		assert.Equal(t, tt.code, resp.StatusCode, tt.path)
		if tt.cmd != "" {
			assert.Equal(t, tt.cmd, body["command"], tt.path)
		}
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, &comm.SimDriver{})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v1/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.client.Connect())
	f.waitConnected(t)
	f.client.SendCommand("O04T")

	var got []map[string]any
	for len(got) < 3 {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var evt map[string]any
		require.NoError(t, ws.ReadJSON(&evt))
		got = append(got, evt)
	}
	assert.Equal(t, "connected", got[0]["kind"])
	assert.Equal(t, "message", got[1]["kind"])
	assert.Equal(t, "A", got[1]["text"])
	assert.Equal(t, "ack", got[1]["reply"])
	assert.Equal(t, "F04", got[2]["text"])
	assert.Equal(t, "full", got[2]["reply"])
	assert.Equal(t, "04", got[2]["slot"])
}
