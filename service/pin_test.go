package service

import (
	"context"
	"testing"

	"messaging-service/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.direct(t)
	first := h.send(t, alice, id, "remember this")
	second := h.send(t, bob, id, "and this")

	pin, err := h.Pins.Pin(ctx, bob, id, first.ID)
	require.NoError(t, err)
	again, err := h.Pins.Pin(ctx, alice, id, first.ID)
	require.NoError(t, err)
	assert.Equal(t, pin.ID, again.ID)
	assert.Equal(t, bob.ID, again.PinnedBy)

	_, err = h.Pins.Pin(ctx, alice, id, second.ID)
	require.NoError(t, err)

	pins, err := h.Pins.List(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, second.ID, pins[0].Message.ID)

	require.NoError(t, h.Pins.Unpin(ctx, alice, id, second.ID))
	err = h.Pins.Unpin(ctx, alice, id, second.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// Pins of deleted messages are hidden.
	require.NoError(t, h.Messages.SoftDelete(ctx, alice, first.ID))
	pins, err = h.Pins.List(ctx, alice, id)
	require.NoError(t, err)
	assert.Empty(t, pins)
}

func TestPinChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ab := h.direct(t)
	ac, err := h.Conversations.CreateDirect(ctx, alice, carol.ID)
	require.NoError(t, err)
	msg := h.send(t, alice, ac, "other room")

	_, err = h.Pins.Pin(ctx, alice, ab, msg.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = h.Pins.Pin(ctx, bob, ac, msg.ID)
	assert.True(t, apperr.Is(err, apperr.KindAccessDenied))

	_, err = h.Pins.Pin(ctx, alice, ab, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
