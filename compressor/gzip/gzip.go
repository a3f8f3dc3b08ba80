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

// Package conduitgzip provides the gzip compression strategy for the wire
// codec, registered on a channel under the "gzip" grpc-encoding token.
package conduitgzip

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"sync"

	"github.com/conduitrpc/conduit/compressor"
)

const name = "gzip"

// Option is an option argument for the gzip compressor constructor, New.
type Option interface {
	apply(*Compressor)
}

// Level sets the compression level for the compressor.
func Level(level int) Option {
	return levelOption{level: level}
}

type levelOption struct {
	level int
}

func (o levelOption) apply(c *Compressor) {
	c.level = o.level
}

// New returns a gzip compression strategy, suitable for registering on a
// channel's compressor registry.
func New(opts ...Option) *Compressor {
	c := &Compressor{
		level: gzip.DefaultCompression,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Compressor represents the gzip compression strategy. Writers and readers
// are pooled across messages.
type Compressor struct {
	level         int
	compressors   sync.Pool
	decompressors sync.Pool
}

var _ compressor.Compressor = (*Compressor)(nil)

// Name is gzip.
func (*Compressor) Name() string {
	return name
}

// Compress obtains a gzip compressor.
func (c *Compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	if cw, got := c.compressors.Get().(*writer); got {
		cw.writer.Reset(w)
		return cw, nil
	}

	cw, err := gzip.NewWriterLevel(w, c.level)
	if err != nil {
		return nil, err
	}

	return &writer{
		writer: cw,
		pool:   &c.compressors,
	}, nil
}

type writer struct {
	writer *gzip.Writer
	pool   *sync.Pool
}

var _ io.WriteCloser = (*writer)(nil)

func (w *writer) Write(buf []byte) (int, error) {
	return w.writer.Write(buf)
}

func (w *writer) Close() error {
	defer w.pool.Put(w)
	return w.writer.Close()
}

// Decompress obtains a gzip decompressor.
func (c *Compressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	if dr, got := c.decompressors.Get().(*reader); got {
		if err := dr.reader.Reset(r); err != nil {
			c.decompressors.Put(dr)
			return nil, err
		}
		return dr, nil
	}

	dr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}

	return &reader{
		reader: dr,
		pool:   &c.decompressors,
	}, nil
}

type reader struct {
	reader *gzip.Reader
	pool   *sync.Pool
}

var _ io.ReadCloser = (*reader)(nil)

func (r *reader) Read(buf []byte) (n int, err error) {
	return r.reader.Read(buf)
}

func (r *reader) Close() error {
	r.pool.Put(r)
	return nil
}

// DecompressedSize returns the decompressed size of the given gzip
// compressed bytes, so the codec can enforce its receive limit before
// inflating.
//
// RFC 1952 stores the size of the original input modulo 2^32 in the last
// four bytes. Messages are capped well below that, so no wraparound
// handling is needed.
func (c *Compressor) DecompressedSize(buf []byte) int {
	last := len(buf)
	if last < 4 {
		return -1
	}
	return int(binary.LittleEndian.Uint32(buf[last-4 : last]))
}
