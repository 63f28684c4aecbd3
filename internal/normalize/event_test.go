package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/dms/internal/domain"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, body string) RawEvent {
	t.Helper()
	ev, err := Decode(json.RawMessage(body))
	require.NoError(t, err)
	return ev
}

func TestEvent_FullPayload(t *testing.T) {
	id := uuid.New()
	raw := decode(t, `{
		"id": "`+id.String()+`",
		"id_local_jetson": 42,
		"id_bus": "bus",
		"id_conductor": "driver",
		"id_sesion_conduccion_jetson": "session",
		"timestamp_evento": "2025-03-10T11:59:30.250+00:00",
		"tipo_evento": " Fatiga ",
		"subtipo_evento": "Bostezo",
		"duracion_segundos": "4.5",
		"confidence_score_ia": 0.91,
		"snapshot_url": "https://cdn/snap.jpg",
		"metadatos_ia_json": {"model": "v3"},
		"sent_to_cloud_at": "2025-03-10T11:59:45"
	}`)

	c, err := Event(raw, now)

	require.NoError(t, err)
	assert.Equal(t, id, c.Event.ID)
	assert.Equal(t, int64(42), *c.Event.LocalSeq)
	assert.Equal(t, domain.EventFatigue, c.Event.Type)
	assert.Equal(t, "Bostezo", *c.Event.Subtype)
	assert.Equal(t, 4.5, *c.Event.DurationSec)
	assert.Equal(t, 0.91, *c.Event.Confidence)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 59, 30, 250_000_000, time.UTC), c.Event.OccurredAt)
	assert.False(t, c.TimestampDefaulted)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 59, 45, 0, time.UTC), *c.Event.SentAt)
	assert.JSONEq(t, `{"model":"v3"}`, string(c.Event.Metadata))
	assert.Nil(t, c.Event.ClipURL)
	assert.Equal(t, now, c.Event.ProcessedAt)
	assert.Equal(t, "bus", c.VehicleRef)
	assert.Equal(t, "driver", c.DriverRef)
	assert.Equal(t, "session", c.SessionRef)
}

func TestEvent_RejectsMissingOrMalformedID(t *testing.T) {
	_, err := Event(RawEvent{Type: "Fatiga"}, now)
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = Event(RawEvent{ID: "E1", Type: "Fatiga"}, now)
	assert.ErrorIs(t, err, ErrMalformedID)

	_, err = Event(RawEvent{ID: uuid.Nil.String(), Type: "Fatiga"}, now)
	assert.ErrorIs(t, err, ErrMalformedID)
}

func TestEvent_RequiresType(t *testing.T) {
	_, err := Event(RawEvent{ID: uuid.NewString(), Type: "  "}, now)
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestEvent_BadTimestampFallsBackToServerTime(t *testing.T) {
	c, err := Event(RawEvent{ID: uuid.NewString(), Type: "Fatiga", Timestamp: "yesterday"}, now)

	require.NoError(t, err)
	assert.Equal(t, now, c.Event.OccurredAt)
	assert.True(t, c.TimestampDefaulted)
}

func TestEvent_InvalidNumbersBecomeNil(t *testing.T) {
	raw := decode(t, `{"id":"`+uuid.NewString()+`","tipo_evento":"Fatiga",
		"duracion_segundos":"abc","confidence_score_ia":{"x":1},"id_local_jetson":"1.5"}`)

	c, err := Event(raw, now)

	require.NoError(t, err)
	assert.Nil(t, c.Event.DurationSec)
	assert.Nil(t, c.Event.Confidence)
	assert.Nil(t, c.Event.LocalSeq)
}

func TestEvent_OutOfRangeValuesBecomeNil(t *testing.T) {
	raw := decode(t, `{"id":"`+uuid.NewString()+`","tipo_evento":"Fatiga",
		"duracion_segundos":-1,"confidence_score_ia":85}`)

	c, err := Event(raw, now)

	require.NoError(t, err)
	assert.Nil(t, c.Event.DurationSec)
	assert.Nil(t, c.Event.Confidence)
}

func TestDecode_WrongFieldTypeFailsOnlyThatEntry(t *testing.T) {
	_, err := Decode(json.RawMessage(`{"id": 17}`))
	assert.ErrorIs(t, err, ErrUndecodable)

	_, err = Decode(json.RawMessage(`"not an object"`))
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestTimestamp_Layouts(t *testing.T) {
	cases := map[string]time.Time{
		"2025-03-10T10:00:00Z":        time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		"2025-03-10T10:00:00-05:00":   time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
		"2025-03-10T10:00:00.123456":  time.Date(2025, 3, 10, 10, 0, 0, 123456000, time.UTC),
		"2025-03-10 10:00:00":         time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		"2025-03-10 10:00:00.5+00:00": time.Date(2025, 3, 10, 10, 0, 0, 500_000_000, time.UTC),
		"2025-03-10T10:00":            time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := Timestamp(in)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), "%s: got %s", in, got)
	}

	_, ok := Timestamp("10/03/2025")
	assert.False(t, ok)
}

func TestTelemetry(t *testing.T) {
	raw := RawTelemetry{
		HardwareID:   "JN-001",
		CPUUsagePct:  json.RawMessage(`"37.5"`),
		TemperatureC: json.RawMessage(`55`),
		RAMUsageGB:   json.RawMessage(`"n/a"`),
	}

	tel, err := Telemetry(raw, []byte(`{}`), now)

	require.NoError(t, err)
	assert.Equal(t, "JN-001", tel.HardwareID)
	assert.Equal(t, now, tel.Timestamp)
	assert.Equal(t, 37.5, *tel.CPUUsagePct)
	assert.Equal(t, 55.0, *tel.TemperatureC)
	assert.Nil(t, tel.RAMUsageGB)

	_, err = Telemetry(RawTelemetry{}, nil, now)
	assert.ErrorIs(t, err, ErrMissingHardwareID)
}
