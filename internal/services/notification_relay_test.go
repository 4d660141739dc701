package services

import (
	"testing"

	"evetia/internal/status"
	"evetia/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationRelay_HandleMessage(t *testing.T) {
	rooms := &recordingRooms{}
	relay := NewNotificationRelay(nil, "seat-notifications", NewNotificationService(rooms))

	err := relay.handleMessage(`{"event_id":"e1","type":"seatUpdate","payload":{"seat":"A1","status":"sold"}}`)
	require.NoError(t, err)

	msgs := rooms.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "e1", msgs[0].EventID)
	assert.Equal(t, models.KindSeatUpdate, msgs[0].Kind)

	assert.Error(t, relay.handleMessage(`garbage`))
	assert.ErrorIs(t, relay.handleMessage(`{"event_id":"e1","type":"refund"}`), status.ErrUnknownKind)
	assert.Len(t, rooms.messages(), 1)
}
