/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// buildFrame assembles marker + values + EOM for test input.
func buildFrame(marker dvalue.Value, values ...dvalue.Value) []byte {
	buf := dvalue.Append(nil, marker)
	for _, v := range values {
		buf = dvalue.Append(buf, v)
	}
	return dvalue.Append(buf, dvalue.EOM())
}

func collectFrames(t *testing.T, f *framer, chunks ...[]byte) []Message {
	t.Helper()

	var messages []Message
	for _, chunk := range chunks {
		err := f.feed(chunk, func(m Message) error {
			messages = append(messages, m)
			return nil
		})
		require.NoError(t, err)
	}
	return messages
}

func TestFramer_SingleMessage(t *testing.T) {
	t.Parallel()

	frame := buildFrame(dvalue.Reply(), dvalue.Int(7), dvalue.String("main.js"))

	var f framer
	messages := collectFrames(t, &f, frame)

	require.Len(t, messages, 1)
	assert.Equal(t, dvalue.KindREP, messages[0].Marker)
	assert.Equal(t, []dvalue.Value{dvalue.Int(7), dvalue.String("main.js")}, messages[0].Values)
}

func TestFramer_ByteAtATime(t *testing.T) {
	t.Parallel()

	frame := buildFrame(dvalue.Notify(),
		dvalue.Int(NotifyStatus),
		dvalue.Int(StatePaused),
		dvalue.String("main.js"),
		dvalue.String("frobnicate"),
		dvalue.Int(10),
		dvalue.Int(1234),
	)

	// Feeding one byte at a time forces the framer to resume decoding
	// mid-value repeatedly.
	var f framer
	var messages []Message
	for _, b := range frame {
		messages = append(messages, collectFrames(t, &f, []byte{b})...)
	}

	require.Len(t, messages, 1)
	assert.Equal(t, dvalue.KindNFY, messages[0].Marker)
	assert.Len(t, messages[0].Values, 6)
	assert.Equal(t, dvalue.String("frobnicate"), messages[0].Values[3])
}

func TestFramer_SplitMidValue(t *testing.T) {
	t.Parallel()

	frame := buildFrame(dvalue.Reply(), dvalue.String("a string long enough to not be packed, spanning chunks"))

	// Split inside the str16 payload.
	split := len(frame) / 2
	var f framer
	messages := collectFrames(t, &f, frame[:split], frame[split:])

	require.Len(t, messages, 1)
	assert.Equal(t, "a string long enough to not be packed, spanning chunks", messages[0].Values[0].Str)
}

func TestFramer_MultipleMessagesOneChunk(t *testing.T) {
	t.Parallel()

	chunk := append(
		buildFrame(dvalue.Reply(), dvalue.Int(0)),
		buildFrame(dvalue.Notify(), dvalue.Int(NotifyPrint), dvalue.String("hi"))...)

	var f framer
	messages := collectFrames(t, &f, chunk)

	require.Len(t, messages, 2)
	assert.Equal(t, dvalue.KindREP, messages[0].Marker)
	assert.Equal(t, dvalue.KindNFY, messages[1].Marker)
}

func TestFramer_BadLeadingTagIsDesync(t *testing.T) {
	t.Parallel()

	var f framer
	err := f.feed([]byte{0x5f}, func(Message) error { return nil })
	assert.ErrorIs(t, err, dvalue.ErrBadTag)
}

func TestFramer_DataValueWithoutMarkerIsDesync(t *testing.T) {
	t.Parallel()

	var f framer
	err := f.feed(dvalue.Append(nil, dvalue.Int(5)), func(Message) error { return nil })
	assert.ErrorIs(t, err, ErrProtocolDesync)
}

func TestEncodeRequest(t *testing.T) {
	t.Parallel()

	frame := encodeRequest(CmdAddBreak, []dvalue.Value{dvalue.String("main.js"), dvalue.Int(10)})

	var f framer
	messages := collectFrames(t, &f, frame)

	require.Len(t, messages, 1)
	assert.Equal(t, dvalue.KindREQ, messages[0].Marker)
	assert.Equal(t, []dvalue.Value{
		dvalue.Int(CmdAddBreak),
		dvalue.String("main.js"),
		dvalue.Int(10),
	}, messages[0].Values)
}
