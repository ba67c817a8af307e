package net

import (
	"encoding/binary"
	"errors"

	"fulcrum/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidSide        = errors.New("invalid side byte")
	ErrMessageTooShort    = errors.New("message shorter than frame size")
	ErrZeroQuantity       = errors.New("quantity must be positive")
)

// Fixed-width wire format, little-endian, one frame per message:
//
//	offset 0  1 byte   type      'A' add, 'C' cancel, 'M' modify, 'E' execute
//	offset 1  1 byte   side      'B' or 'S' (ignored for 'C')
//	offset 2  8 bytes  order id  u64
//	offset 10 8 bytes  price     i64 fixed-point
//	offset 18 8 bytes  quantity  u64
//	offset 26 6 bytes  padding   zero-filled
const MessageSize = 32

type MessageType byte

const (
	MsgAdd     MessageType = 'A'
	MsgCancel  MessageType = 'C'
	MsgModify  MessageType = 'M'
	MsgExecute MessageType = 'E'
)

const (
	sideBuy  = 'B'
	sideSell = 'S'
)

// Message is one decoded frame.
type Message struct {
	Type     MessageType
	Side     common.Side
	OrderID  uint64
	Price    int64
	Quantity uint64
}

// ParseMessage decodes a frame. Validation failures never reach the
// engine: unknown types and sides, and zero quantity on add/modify, are
// rejected here.
func ParseMessage(buf []byte) (Message, error) {
	if len(buf) < MessageSize {
		return Message{}, ErrMessageTooShort
	}

	m := Message{
		Type:     MessageType(buf[0]),
		OrderID:  binary.LittleEndian.Uint64(buf[2:10]),
		Price:    int64(binary.LittleEndian.Uint64(buf[10:18])),
		Quantity: binary.LittleEndian.Uint64(buf[18:26]),
	}

	switch m.Type {
	case MsgAdd, MsgModify:
		side, err := parseSideByte(buf[1])
		if err != nil {
			return Message{}, err
		}
		m.Side = side
		if m.Quantity == 0 {
			return Message{}, ErrZeroQuantity
		}
	case MsgExecute:
		side, err := parseSideByte(buf[1])
		if err != nil {
			return Message{}, err
		}
		m.Side = side
	case MsgCancel:
		// Side is ignored for cancels; decode it opportunistically so a
		// well-formed frame round-trips.
		if side, err := parseSideByte(buf[1]); err == nil {
			m.Side = side
		}
	default:
		return Message{}, ErrInvalidMessageType
	}
	return m, nil
}

// Encode serializes the message into a fresh frame.
func (m Message) Encode() []byte {
	buf := make([]byte, MessageSize)
	buf[0] = byte(m.Type)
	buf[1] = sideBuy
	if m.Side == common.Sell {
		buf[1] = sideSell
	}
	binary.LittleEndian.PutUint64(buf[2:10], m.OrderID)
	binary.LittleEndian.PutUint64(buf[10:18], uint64(m.Price))
	binary.LittleEndian.PutUint64(buf[18:26], m.Quantity)
	return buf
}

// ExecuteMessage builds the outbound 'E' frame reporting one fill on the
// given order.
func ExecuteMessage(orderID uint64, side common.Side, t common.Trade) Message {
	return Message{
		Type:     MsgExecute,
		Side:     side,
		OrderID:  orderID,
		Price:    t.Price,
		Quantity: t.Quantity,
	}
}

func parseSideByte(b byte) (common.Side, error) {
	switch b {
	case sideBuy:
		return common.Buy, nil
	case sideSell:
		return common.Sell, nil
	}
	return common.Buy, ErrInvalidSide
}
