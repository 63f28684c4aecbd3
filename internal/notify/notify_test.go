package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/store"
)

func testMessage() Message {
	event := uuid.New()
	return Message{
		Alert: &domain.Alert{
			ID:          uuid.New(),
			EventID:     &event,
			DriverID:    domain.UnknownDriverID,
			VehicleID:   uuid.New(),
			RaisedAt:    time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
			Type:        domain.AlertUnidentifiedDriver,
			Description: "Alerta: Conductor no identificado en el bus 'XYZ987'.",
			Criticality: domain.CriticalityHigh,
			Status:      domain.AlertStatusActive,
		},
		CompanyID: uuid.New(),
		Plate:     "XYZ987",
	}
}

type recordingSink struct {
	name  string
	delay time.Duration
	err   error
	panic bool

	mu   sync.Mutex
	got  []Message
	ctxs []error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, msg Message) error {
	if s.panic {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	s.ctxs = append(s.ctxs, ctx.Err())
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestFanout_FailingSinksDoNotAffectOthers(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	panicking := &recordingSink{name: "panicking", panic: true}
	f := NewFanout(time.Second, zap.NewNop(), failing, panicking, ok)

	f.Notify(context.Background(), testMessage())
	f.Wait()

	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
}

func TestFanout_SlowSinkIsBoundedByTimeout(t *testing.T) {
	slow := &recordingSink{name: "slow", delay: 5 * time.Second}
	f := NewFanout(200*time.Millisecond, zap.NewNop(), slow)

	start := time.Now()
	f.Notify(context.Background(), testMessage())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Notify does not block")
	f.Wait()

	require.Equal(t, 1, slow.count())
	assert.ErrorIs(t, slow.ctxs[0], context.DeadlineExceeded)
}

func TestFanout_CallerCancellationDoesNotAbortDelivery(t *testing.T) {
	sink := &recordingSink{name: "s", delay: 10 * time.Millisecond}
	f := NewFanout(time.Second, zap.NewNop(), sink)
	ctx, cancel := context.WithCancel(context.Background())

	f.Notify(ctx, testMessage())
	cancel()
	f.Wait()

	require.Equal(t, 1, sink.count())
	assert.NoError(t, sink.ctxs[0])
}

func TestMessage_JSON(t *testing.T) {
	msg := testMessage()
	body, err := msg.JSON()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Conductor No Identificado", got["tipo_alerta"])
	assert.Equal(t, uuid.Nil.String(), got["id_conductor"])
	assert.Equal(t, "XYZ987", got["placa"])
	assert.Equal(t, "2025-03-10T08:00:00Z", got["timestamp_alerta"])
	assert.NotContains(t, got, "id_sesion_conduccion")
}

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	msg := testMessage()
	ctx := context.Background()

	sub := client.Subscribe(ctx, store.AlertChannel(msg.CompanyID.String()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(store.NewRedisStoreFromClient(client))
	require.NoError(t, sink.Send(ctx, msg))

	got, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, got.Payload, msg.Alert.ID.String())
}

func TestWebhookSink(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := testMessage()
	require.NoError(t, NewWebhookSink(srv.URL, time.Second).Send(context.Background(), msg))
	assert.Contains(t, string(body), msg.Alert.ID.String())
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second).Send(context.Background(), testMessage())
	assert.Error(t, err)
}

type doneToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type fakeMQTT struct {
	mqtt.Client
	topic   string
	payload []byte
	err     error
}

func (c *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.payload = payload.([]byte)
	return newDoneToken(c.err)
}

func TestMQTTSink_TopicPerVehicle(t *testing.T) {
	client := &fakeMQTT{}
	msg := testMessage()

	require.NoError(t, NewMQTTSink(client, "dms/alerts").Send(context.Background(), msg))

	assert.Equal(t, "dms/alerts/"+msg.Alert.VehicleID.String(), client.topic)
	assert.Contains(t, string(client.payload), msg.Alert.ID.String())
}

func TestMQTTSink_PublishError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}

	err := NewMQTTSink(client, "dms/alerts").Send(context.Background(), testMessage())

	assert.Error(t, err)
}
