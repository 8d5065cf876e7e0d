/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package wire

import (
	"errors"
	"fmt"

	"github.com/harold-b/musashi-dap/internal/dvalue"
)

// Message is one complete framed runtime message: a leading type marker
// (REQ, REP, ERR or NFY) followed by the body values, EOM stripped.
type Message struct {
	Marker dvalue.Kind
	Values []dvalue.Value
}

// framer reassembles discrete messages from a byte stream that arrives in
// arbitrary chunks. It buffers partial input and resumes decoding mid-value:
// no value is decoded until all of its bytes are present.
type framer struct {
	buf []byte

	// accumulating holds the message being built, nil while waiting for the
	// next message-type marker.
	accumulating *Message
}

// feed appends a chunk and emits every message completed by it. A returned
// error (from decoding or from emit) is a protocol desync and poisons the
// framer; the connection must be closed.
func (f *framer) feed(chunk []byte, emit func(Message) error) error {
	f.buf = append(f.buf, chunk...)

	offset := 0
	for {
		v, n, err := dvalue.Decode(f.buf[offset:])
		if errors.Is(err, dvalue.ErrTruncated) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocolDesync, err)
		}
		offset += n

		if f.accumulating == nil {
			switch v.Kind {
			case dvalue.KindREQ, dvalue.KindREP, dvalue.KindERR, dvalue.KindNFY:
				f.accumulating = &Message{Marker: v.Kind}
			default:
				return fmt.Errorf("%w: expected message type marker, got %s", ErrProtocolDesync, v.Kind)
			}
			continue
		}

		if v.Kind == dvalue.KindEOM {
			msg := *f.accumulating
			f.accumulating = nil
			if err := emit(msg); err != nil {
				return err
			}
			continue
		}

		f.accumulating.Values = append(f.accumulating.Values, v)
	}

	// Keep only the unconsumed tail.
	f.buf = append(f.buf[:0], f.buf[offset:]...)
	return nil
}

// encodeRequest builds the wire form of a command: REQ marker, command code,
// ordered arguments, EOM.
func encodeRequest(command int, args []dvalue.Value) []byte {
	buf := dvalue.Append(nil, dvalue.Request())
	buf = dvalue.Append(buf, dvalue.Int(int32(command)))
	for _, a := range args {
		buf = dvalue.Append(buf, a)
	}
	return dvalue.Append(buf, dvalue.EOM())
}
