package net

import (
	"testing"
	"time"

	"fulcrum/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{Type: MsgAdd, Side: common.Buy, OrderID: 42, Price: 10500, Quantity: 100},
		{Type: MsgAdd, Side: common.Sell, OrderID: 7, Price: -25, Quantity: 1},
		{Type: MsgModify, Side: common.Sell, OrderID: 9, Price: 9900, Quantity: 5},
		{Type: MsgCancel, Side: common.Buy, OrderID: 3},
	}
	for _, want := range cases {
		frame := want.Encode()
		require.Len(t, frame, MessageSize)

		got, err := ParseMessage(frame)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMessagePadding(t *testing.T) {
	frame := Message{Type: MsgAdd, Side: common.Buy, OrderID: 1, Price: 1, Quantity: 1}.Encode()
	for i := 26; i < MessageSize; i++ {
		assert.Zero(t, frame[i], "padding byte %d", i)
	}
}

func TestParseRejectsShortFrame(t *testing.T) {
	_, err := ParseMessage(make([]byte, MessageSize-1))
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestParseRejectsUnknownType(t *testing.T) {
	frame := Message{Type: MsgAdd, Side: common.Buy, OrderID: 1, Price: 1, Quantity: 1}.Encode()
	frame[0] = 'X'
	_, err := ParseMessage(frame)
	assert.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestParseRejectsBadSide(t *testing.T) {
	frame := Message{Type: MsgAdd, Side: common.Buy, OrderID: 1, Price: 1, Quantity: 1}.Encode()
	frame[1] = 'Q'
	_, err := ParseMessage(frame)
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestParseIgnoresSideForCancel(t *testing.T) {
	frame := Message{Type: MsgCancel, OrderID: 5}.Encode()
	frame[1] = 'Q'
	m, err := ParseMessage(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m.OrderID)
}

func TestParseRejectsZeroQuantity(t *testing.T) {
	frame := Message{Type: MsgAdd, Side: common.Buy, OrderID: 1, Price: 1}.Encode()
	_, err := ParseMessage(frame)
	assert.ErrorIs(t, err, ErrZeroQuantity)

	frame = Message{Type: MsgModify, Side: common.Buy, OrderID: 1, Price: 1}.Encode()
	_, err = ParseMessage(frame)
	assert.ErrorIs(t, err, ErrZeroQuantity)
}

func TestExecuteMessage(t *testing.T) {
	trade := common.Trade{
		BuyOrderID:  2,
		SellOrderID: 1,
		Price:       10400,
		Quantity:    50,
		Timestamp:   time.Now(),
	}
	m := ExecuteMessage(2, common.Buy, trade)
	assert.Equal(t, MsgExecute, m.Type)
	assert.Equal(t, uint64(2), m.OrderID)
	assert.Equal(t, int64(10400), m.Price)
	assert.Equal(t, uint64(50), m.Quantity)

	got, err := ParseMessage(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
