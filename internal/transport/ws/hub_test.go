package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/notify"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func alertMessage(company uuid.UUID) notify.Message {
	return notify.Message{
		Alert: &domain.Alert{
			ID:          uuid.New(),
			VehicleID:   uuid.New(),
			RaisedAt:    time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			Type:        domain.AlertSevereFatigue,
			Criticality: domain.CriticalityCritical,
			Status:      domain.AlertStatusActive,
		},
		CompanyID: company,
		Plate:     "ABC-123",
	}
}

func TestHub_BroadcastsAlerts(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	msg := alertMessage(uuid.New())
	require.NoError(t, hub.Send(context.Background(), msg))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame StreamMessage
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "alert", frame.Type)

	var data map[string]any
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	assert.Equal(t, msg.Alert.ID.String(), data["id"])
	assert.Equal(t, "Fatiga Severa", data["tipo_alerta"])
	assert.Equal(t, "ABC-123", data["placa"])
}

func TestHub_FiltersByCompany(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	mine := uuid.New()
	conn := dial(t, srv, "?id_empresa="+mine.String())
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(context.Background(), alertMessage(uuid.New())))
	wanted := alertMessage(mine)
	require.NoError(t, hub.Send(context.Background(), wanted))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), wanted.Alert.ID.String(), "other companies' alerts are not delivered")
}

func TestHub_RemovesDisconnectedClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.Send(context.Background(), alertMessage(uuid.New())))
}
