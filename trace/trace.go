// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package trace archives search decisions for offline policy
// training: (frontier snapshot, chosen transition, rollout cost)
// triples, batched into zstd-compressed segments with content
// digests.
package trace

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// Record is one archived decision.
type Record struct {
	// Frontier is the canonical frontier encoding at the
	// moment of the decision.
	Frontier []byte `json:"frontier"`
	// Transition labels the decision taken.
	Transition string `json:"transition"`
	// Cost is the rollout cost observed below the decision.
	Cost float64 `json:"cost"`
}

var magic = []byte{'p', 'v', 't', 'r', 0x01}

// DefaultSegmentSize is the uncompressed segment threshold.
const DefaultSegmentSize = 1 << 20

// Writer appends records to an archive stream. Records batch
// into segments; each segment is zstd-compressed and framed
// with its length and blake2b digest.
type Writer struct {
	dst   io.Writer
	enc   *zstd.Encoder
	run   uuid.UUID
	buf   bytes.Buffer
	limit int
	err   error
}

// NewWriter starts an archive on dst with a fresh run ID.
func NewWriter(dst io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	w := &Writer{dst: dst, enc: enc, run: uuid.New(), limit: DefaultSegmentSize}
	if _, err := dst.Write(magic); err != nil {
		return nil, fmt.Errorf("trace: writing header: %w", err)
	}
	if _, err := dst.Write(w.run[:]); err != nil {
		return nil, fmt.Errorf("trace: writing header: %w", err)
	}
	return w, nil
}

// Run returns the archive's run ID.
func (w *Writer) Run() uuid.UUID { return w.run }

// Record appends one decision; it satisfies the search
// engine's Recorder interface. Append errors stick and
// surface on Flush or Close.
func (w *Writer) Record(frontier []byte, transition string, cost float64) {
	w.Append(&Record{Frontier: frontier, Transition: transition, Cost: cost})
}

// Append adds one record to the current segment.
func (w *Writer) Append(rec *Record) error {
	if w.err != nil {
		return w.err
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		w.err = fmt.Errorf("trace: encoding record: %w", err)
		return w.err
	}
	w.buf.Write(buf)
	w.buf.WriteByte('\n')
	if w.buf.Len() >= w.limit {
		return w.Flush()
	}
	return nil
}

// Flush compresses and frames the pending segment.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.buf.Len() == 0 {
		return nil
	}
	compressed := w.enc.EncodeAll(w.buf.Bytes(), nil)
	w.buf.Reset()
	var hdr [4 + blake2b.Size256]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(compressed)))
	digest := blake2b.Sum256(compressed)
	copy(hdr[4:], digest[:])
	if _, err := w.dst.Write(hdr[:]); err != nil {
		w.err = fmt.Errorf("trace: writing segment: %w", err)
		return w.err
	}
	if _, err := w.dst.Write(compressed); err != nil {
		w.err = fmt.Errorf("trace: writing segment: %w", err)
		return w.err
	}
	return nil
}

// Close flushes the final segment.
func (w *Writer) Close() error {
	err := w.Flush()
	w.enc.Close()
	if err != nil {
		return err
	}
	return w.err
}

// Reader iterates an archive, verifying segment digests.
type Reader struct {
	src  io.Reader
	dec  *zstd.Decoder
	run  uuid.UUID
	recs []Record
	next int
	err  error
}

// NewReader opens an archive and validates its header.
func NewReader(src io.Reader) (*Reader, error) {
	hdr := make([]byte, len(magic)+16)
	if _, err := io.ReadFull(src, hdr); err != nil {
		return nil, fmt.Errorf("trace: reading header: %w", err)
	}
	if !bytes.Equal(hdr[:len(magic)], magic) {
		return nil, fmt.Errorf("trace: bad magic")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	r := &Reader{src: src, dec: dec}
	copy(r.run[:], hdr[len(magic):])
	return r, nil
}

// Run returns the archive's run ID.
func (r *Reader) Run() uuid.UUID { return r.run }

// Next returns the next record, or io.EOF at the end.
func (r *Reader) Next() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	for r.next >= len(r.recs) {
		if err := r.readSegment(); err != nil {
			r.err = err
			return nil, err
		}
	}
	rec := &r.recs[r.next]
	r.next++
	return rec, nil
}

func (r *Reader) readSegment() error {
	var hdr [4 + blake2b.Size256]byte
	if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("trace: reading segment header: %w", err)
	}
	compressed := make([]byte, binary.LittleEndian.Uint32(hdr[:4]))
	if _, err := io.ReadFull(r.src, compressed); err != nil {
		return fmt.Errorf("trace: reading segment: %w", err)
	}
	digest := blake2b.Sum256(compressed)
	if !bytes.Equal(digest[:], hdr[4:]) {
		return fmt.Errorf("trace: segment digest mismatch")
	}
	raw, err := r.dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("trace: decompressing segment: %w", err)
	}
	r.recs = r.recs[:0]
	r.next = 0
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("trace: decoding record: %w", err)
		}
		r.recs = append(r.recs, rec)
	}
	return nil
}

// Close releases the decoder.
func (r *Reader) Close() error {
	r.dec.Close()
	return nil
}
