package station

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roverlink/groundstation/pkg/link"
	"github.com/roverlink/groundstation/pkg/rover"
)

func sampleEvent() link.Event {
	return link.Event{
		Telemetry: &rover.Telemetry{
			Timestamp: rover.Timestamp{Hour: 12, Minute: 34, Second: 56},
			Location: rover.Location{
				Lat:     48.85,
				Long:    2.35,
				Alt:     35,
				Speed:   1.5,
				Sats:    7,
				Heading: 270,
			},
			SignalStrength: -61,
			FreeMemory:     1824,
			Status:         "ok",
		},
		RSSI: -72,
		At:   time.Date(2021, 6, 5, 12, 34, 57, 0, time.UTC),
	}
}

func TestEventPayload(t *testing.T) {
	ev := sampleEvent()
	doc := eventPayload("gs1", ev)
	require.Equal(t, "gs1", doc.Station)
	require.Equal(t, "12:34:56", doc.Clock)
	require.Equal(t, ev.At, doc.At)
	require.Equal(t, float32(48.85), doc.Lat)
	require.Equal(t, float32(2.35), doc.Long)
	require.Equal(t, uint8(7), doc.Sats)
	require.Equal(t, uint16(270), doc.Heading)
	require.Equal(t, int16(-72), doc.RSSI)
	require.Equal(t, int16(-61), doc.RoverRSSI)
	require.Equal(t, uint16(1824), doc.FreeMemory)
	require.Equal(t, "ok", doc.Status)
}

func TestDecodeCommand(t *testing.T) {
	req, err := decodeCommand([]byte(`{"id":"c1","command":"goto 4"}`))
	require.NoError(t, err)
	require.Equal(t, "c1", req.ID)
	require.Equal(t, "goto 4", req.Command)

	_, err = decodeCommand([]byte(`{"id":"c2"}`))
	require.Error(t, err)

	_, err = decodeCommand([]byte(`not json`))
	require.Error(t, err)
}

func TestPanelLines(t *testing.T) {
	ev := sampleEvent()
	lines := panelLines(&ev, 1)
	require.Len(t, lines, 2)
	require.Equal(t, "12:34:56 r-72 q1", lines[0])
	require.Equal(t, "+48.850 +2.350", lines[1])

	lines = panelLines(nil, 0)
	require.Equal(t, "no rover yet", lines[0])
}
