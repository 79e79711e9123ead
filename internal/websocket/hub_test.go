package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/middleware"
	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
)

func fakeClient(hub *Hub, userID, companyID, role string) *Client {
	return &Client{
		UserID:    userID,
		CompanyID: companyID,
		UserRole:  role,
		hub:       hub,
		send:      make(chan []byte, 4),
		logger:    zap.NewNop(),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var frame Envelope
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.UserID)
		return Envelope{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame for %s: %s", c.UserID, data)
	default:
	}
}

func TestBroadcastToCompanyRole(t *testing.T) {
	hub := startHub(t)
	dispatcher := fakeClient(hub, "d-1", "acme", models.RoleDispatcher)
	admin := fakeClient(hub, "a-1", "acme", models.RoleAdmin)
	driver := fakeClient(hub, "dr-1", "acme", models.RoleDriver)
	otherTenant := fakeClient(hub, "d-2", "globex", models.RoleDispatcher)
	for _, c := range []*Client{dispatcher, admin, driver, otherTenant} {
		require.True(t, hub.Register(c))
	}
	assert.Equal(t, 4, hub.GetClientCount())

	sent, err := hub.BroadcastToCompanyRole("acme", models.RoleDispatcher, Envelope{Type: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	assert.Equal(t, "hello", receive(t, dispatcher).Type)
	assert.Equal(t, "hello", receive(t, admin).Type)
	assertNothing(t, driver)
	assertNothing(t, otherTenant)
}

func TestHubNotify(t *testing.T) {
	hub := startHub(t)
	dispatcher := fakeClient(hub, "d-1", "acme", models.RoleDispatcher)
	driver := fakeClient(hub, "dr-1", "acme", models.RoleDriver)
	require.True(t, hub.Register(dispatcher))
	require.True(t, hub.Register(driver))

	var n notify.Notifier = hub
	assert.Equal(t, "websocket", notify.NameOf(n))

	err := n.Notify(context.Background(), "acme", notify.RoleDispatcher, notify.Event{
		Type:      notify.EventGeofenceEnter,
		CompanyID: "acme",
		DriverID:  "dr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, notify.EventGeofenceEnter, receive(t, dispatcher).Type)
	assertNothing(t, driver)

	err = n.Notify(context.Background(), "acme", notify.RoleDispatcher, notify.Event{
		Type:      notify.EventTimesheetOpened,
		CompanyID: "acme",
		DriverID:  "dr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, notify.EventTimesheetOpened, receive(t, dispatcher).Type)
	assert.Equal(t, notify.EventTimesheetOpened, receive(t, driver).Type)
}

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	hub := startHub(t)
	first := fakeClient(hub, "d-1", "acme", models.RoleDispatcher)
	second := fakeClient(hub, "d-1", "acme", models.RoleDispatcher)
	require.True(t, hub.Register(first))
	require.True(t, hub.Register(second))

	_, ok := <-first.send
	assert.False(t, ok, "replaced connection should be closed")

	// A late unregister of the old connection must not drop the new one
	hub.Unregister(first)
	assert.True(t, hub.IsUserConnected("acme", "d-1"))

	hub.Unregister(second)
	assert.False(t, hub.IsUserConnected("acme", "d-1"))
}

func TestSameUserIDInTwoCompaniesStaysSeparate(t *testing.T) {
	hub := startHub(t)
	acme := fakeClient(hub, "dr-1", "acme", models.RoleDriver)
	globex := fakeClient(hub, "dr-1", "globex", models.RoleDriver)
	require.True(t, hub.Register(acme))
	require.True(t, hub.Register(globex))
	assert.Equal(t, 2, hub.GetClientCount())
	assert.True(t, hub.IsUserConnected("acme", "dr-1"))
	assert.True(t, hub.IsUserConnected("globex", "dr-1"))

	require.NoError(t, hub.Notify(context.Background(), "acme", notify.RoleDispatcher, notify.Event{
		Type:      notify.EventTimesheetClosed,
		CompanyID: "acme",
		DriverID:  "dr-1",
	}))
	assert.Equal(t, notify.EventTimesheetClosed, receive(t, acme).Type)
	assertNothing(t, globex)

	hub.Unregister(globex)
	assert.True(t, hub.IsUserConnected("acme", "dr-1"))
	assert.False(t, hub.IsUserConnected("globex", "dr-1"))
}

func TestRegisterAfterStop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := fakeClient(hub, "d-1", "acme", models.RoleDispatcher)
	require.True(t, hub.Register(client))
	cancel()
	<-stopped

	_, ok := <-client.send
	assert.False(t, ok)
	assert.False(t, hub.Register(fakeClient(hub, "d-2", "acme", models.RoleDispatcher)))
	assert.NoError(t, hub.BroadcastToUser(context.Background(), "acme", "d-1", "late"))
}

const wsSecret = "ws-secret"

func dialHub(t *testing.T, server *httptest.Server, claims middleware.UserClaims) *websocket.Conn {
	t.Helper()
	token, err := middleware.IssueToken(wsSecret, claims, time.Now())
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Envelope
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestLocationUpdateOverWebSocket(t *testing.T) {
	store := database.NewMemoryStore()
	eng, err := engine.New(engine.Options{Store: store})
	require.NoError(t, err)

	hub := startHub(t)
	server := httptest.NewServer(HandleWebSocket(hub, eng, wsSecret, zap.NewNop()))
	t.Cleanup(server.Close)

	driver := dialHub(t, server, middleware.UserClaims{UserID: "drv-1", Email: "d@x", Role: models.RoleDriver, CompanyID: "acme"})

	require.NoError(t, driver.WriteJSON(map[string]interface{}{
		"type": "location_update",
		"data": map[string]interface{}{
			"latitude":  37.3382,
			"longitude": -121.8863,
			"speed":     12,
			"timestamp": time.Now().Unix(),
		},
	}))
	assert.Equal(t, "location_ack", readFrame(t, driver).Type)
	assert.Equal(t, 1, store.PingCount("acme", "drv-1"))

	require.NoError(t, driver.WriteJSON(map[string]interface{}{
		"type": "location_update",
		"data": map[string]interface{}{"latitude": 95.0, "longitude": 0.0, "speed": 0, "timestamp": time.Now().Unix()},
	}))
	frame := readFrame(t, driver)
	assert.Equal(t, "location_error", frame.Type)
	assert.Equal(t, 1, store.PingCount("acme", "drv-1"))
}

func TestLocationUpdateRejectedForDispatcher(t *testing.T) {
	store := database.NewMemoryStore()
	eng, err := engine.New(engine.Options{Store: store})
	require.NoError(t, err)

	hub := startHub(t)
	server := httptest.NewServer(HandleWebSocket(hub, eng, wsSecret, zap.NewNop()))
	t.Cleanup(server.Close)

	conn := dialHub(t, server, middleware.UserClaims{UserID: "disp-1", Email: "x@x", Role: models.RoleDispatcher, CompanyID: "acme"})
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "location_update",
		"data": map[string]interface{}{"latitude": 1.0, "longitude": 1.0, "speed": 0, "timestamp": time.Now().Unix()},
	}))
	assert.Equal(t, "location_error", readFrame(t, conn).Type)
	assert.Equal(t, 0, store.PingCount("acme", "disp-1"))
}

func TestHandleWebSocketRejectsBadToken(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(HandleWebSocket(hub, nil, wsSecret, zap.NewNop()))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
