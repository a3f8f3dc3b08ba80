// Copyright (c) 2025 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package wire implements gRPC's length-prefixed message framing: a 1-byte
// compressed flag and a 4-byte big-endian length ahead of each payload.
// Messages concatenate on the stream with no other delimiter.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/conduitrpc/conduit/compressor"
	"github.com/conduitrpc/conduit/internal/bufferpool"
)

const (
	// headerLength is the fixed frame preamble: flag byte plus length word.
	headerLength = 5

	flagUncompressed = 0
	flagCompressed   = 1
)

// DefaultMaxMessageSize caps messages in either direction unless a channel
// configures otherwise. Matches grpc's conventional 4 MiB receive default.
const DefaultMaxMessageSize = 4 * 1024 * 1024

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// MaxSendSize caps the size of an outbound message before compression.
func MaxSendSize(n int) CodecOption {
	return func(c *Codec) {
		c.maxSendSize = n
	}
}

// MaxRecvSize caps the size of an inbound message after decompression.
func MaxRecvSize(n int) CodecOption {
	return func(c *Codec) {
		c.maxRecvSize = n
	}
}

// Compressors installs the compressor registry used to resolve per-message
// grpc-encoding tokens.
func Compressors(registry *compressor.Registry) CodecOption {
	return func(c *Codec) {
		c.compressors = registry
	}
}

// Codec frames and deframes messages for one direction pair of a call. It
// is stateless and safe for concurrent use.
type Codec struct {
	maxSendSize int
	maxRecvSize int
	compressors *compressor.Registry
}

// NewCodec returns a codec with the default size limits and no compressors.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		maxSendSize: DefaultMaxMessageSize,
		maxRecvSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Frame writes one framed message to w. A non-empty encoding compresses the
// payload with the registered compressor and sets the compressed flag. The
// pre-compression payload size is checked against the send limit before any
// buffering happens.
func (c *Codec) Frame(w io.Writer, payload []byte, encoding string) error {
	if len(payload) > c.maxSendSize {
		return &SizeExceededError{Size: len(payload), Limit: c.maxSendSize}
	}

	flag := byte(flagUncompressed)
	body := payload

	if encoding != "" {
		comp, ok := c.compressors.Get(encoding)
		if !ok {
			return &UnsupportedEncodingError{Encoding: encoding}
		}
		buf := bufferpool.Get()
		defer bufferpool.Put(buf)

		cw, err := comp.Compress(buf)
		if err != nil {
			return err
		}
		if _, err := cw.Write(payload); err != nil {
			return err
		}
		if err := cw.Close(); err != nil {
			return err
		}
		flag = flagCompressed
		body = buf.Bytes()
	}

	var header [headerLength]byte
	header[0] = flag
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Deframe reads one framed message from r, decompressing per the encoding
// token when the compressed flag is set. It returns io.EOF when the stream
// ends cleanly on a frame boundary; a stream that ends mid-frame is a
// FramingError. The declared length is checked against the receive limit
// before the payload is allocated.
func (c *Codec) Deframe(r io.Reader, encoding string) ([]byte, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, &FramingError{Reason: "stream ended inside a frame header"}
		}
		// A transport failure mid-stream keeps its own classification.
		return nil, err
	}

	flag := header[0]
	if flag != flagUncompressed && flag != flagCompressed {
		return nil, &FramingError{Reason: "invalid compression flag"}
	}

	length := binary.BigEndian.Uint32(header[1:])
	if uint64(length) > uint64(c.maxRecvSize) {
		return nil, &SizeExceededError{Size: int(length), Limit: c.maxRecvSize}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &FramingError{Reason: "stream ended inside a frame payload"}
		}
		return nil, err
	}

	if flag == flagUncompressed {
		return payload, nil
	}

	if encoding == "" {
		return nil, &FramingError{Reason: "compressed flag set without a message encoding"}
	}
	comp, ok := c.compressors.Get(encoding)
	if !ok {
		return nil, &UnsupportedEncodingError{Encoding: encoding}
	}
	return c.inflate(comp, payload)
}

// inflate decompresses a payload, stopping at one byte past the receive
// limit rather than inflating an arbitrarily large body.
func (c *Codec) inflate(comp compressor.Compressor, payload []byte) ([]byte, error) {
	dr, err := comp.Decompress(bytes.NewReader(payload))
	if err != nil {
		return nil, &FramingError{Reason: "corrupt compressed payload"}
	}
	defer dr.Close()

	limited := io.LimitReader(dr, int64(c.maxRecvSize)+1)
	inflated, err := io.ReadAll(limited)
	if err != nil {
		return nil, &FramingError{Reason: "corrupt compressed payload"}
	}
	if len(inflated) > c.maxRecvSize {
		return nil, &SizeExceededError{Size: len(inflated), Limit: c.maxRecvSize}
	}
	return inflated, nil
}
