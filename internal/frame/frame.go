// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package frame implements the wire codec for a single Transmission
// (spec.md §3, §4.1): a length-prefixed, big-endian, CRC32C-checked
// envelope carrying the endpoint URL, content type/encoding, creation
// timestamp, and opaque payload bytes.
package frame

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"
	"unicode/utf8"
)

// Version is the only frame version this codec writes. Any other
// value read back is rejected as CorruptFrame, including versions
// greater than Version (spec.md §4.1: "forward-compatibility").
const Version byte = 1

// maxFieldLen bounds any individual length-prefixed field to guard
// against a corrupt length exploding memory on read.
const maxFieldLen = 64 * 1024 * 1024

// ErrCorruptFrame is returned (often wrapped) for any frame that
// fails to decode: bad version, oversized length, invalid UTF-8,
// CRC mismatch, or a stream that ends early.
var ErrCorruptFrame = errors.New("frame: corrupt")

// ErrWrite wraps any error encountered while writing a frame; per
// spec.md §4.1 there is no partial-write recovery at this layer, the
// spool's write-to-.tmp-then-rename discipline handles that instead.
var ErrWrite = errors.New("frame: write failed")

// Transmission is one opaque payload plus the endpoint/headers needed
// to deliver it (spec.md §3). Immutable once constructed.
type Transmission struct {
	EndpointURL     string
	Payload         []byte
	ContentType     string
	ContentEncoding string
	CreatedAtUTC    time.Time
}

// NewTransmission constructs a Transmission with CreatedAtUTC set to
// now (truncated to millisecond precision, matching the wire format).
func NewTransmission(endpointURL string, payload []byte, contentType, contentEncoding string, now time.Time) Transmission {
	return Transmission{
		EndpointURL:     endpointURL,
		Payload:         payload,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		CreatedAtUTC:    now.UTC().Truncate(time.Millisecond),
	}
}

// RandomSuffix returns a 128-bit random hex string for spool
// filenames (spec.md §3: "YYYYMMDDhhmmss_<128-bit-random-hex>").
func RandomSuffix() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("frame: generating random suffix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// crc32cTable is the Castagnoli polynomial table spec.md §4.1 asks
// for ("crc32c_of_preceding_frame_bytes").
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Write serializes t to w as one frame. Any write error is wrapped in
// ErrWrite.
func Write(w io.Writer, t Transmission) error {
	cw := &countingCRCWriter{w: w, crc: crc32.New(crc32cTable)}

	if err := cw.writeByte(Version); err != nil {
		return err
	}
	if err := cw.writeString(t.EndpointURL); err != nil {
		return err
	}
	if err := cw.writeString(t.ContentType); err != nil {
		return err
	}
	if err := cw.writeString(t.ContentEncoding); err != nil {
		return err
	}
	if err := cw.writeUint64(uint64(t.CreatedAtUTC.UnixMilli())); err != nil {
		return err
	}
	if err := cw.writeBytes(t.Payload); err != nil {
		return err
	}

	sum := cw.crc.Sum32()
	if err := binary.Write(w, binary.BigEndian, sum); err != nil {
		return fmt.Errorf("%w: writing crc: %v", ErrWrite, err)
	}
	return nil
}

// Read decodes one frame from r. filename is used only to enrich
// error messages; it has no bearing on decoding.
func Read(r io.Reader, filename string) (Transmission, error) {
	br := bufio.NewReader(r)
	cw := &countingCRCReader{r: br, crc: crc32.New(crc32cTable)}

	version, err := cw.readByte()
	if err != nil {
		return Transmission{}, corrupt(filename, "reading version", err)
	}
	if version != Version {
		return Transmission{}, corrupt(filename, "unsupported version", nil)
	}

	endpointURL, err := cw.readString()
	if err != nil {
		return Transmission{}, corrupt(filename, "reading endpoint url", err)
	}
	contentType, err := cw.readString()
	if err != nil {
		return Transmission{}, corrupt(filename, "reading content type", err)
	}
	contentEncoding, err := cw.readString()
	if err != nil {
		return Transmission{}, corrupt(filename, "reading content encoding", err)
	}
	createdAtMs, err := cw.readUint64()
	if err != nil {
		return Transmission{}, corrupt(filename, "reading created_at", err)
	}
	payload, err := cw.readBytes()
	if err != nil {
		return Transmission{}, corrupt(filename, "reading payload", err)
	}

	computed := cw.crc.Sum32()
	var onWire uint32
	if err := binary.Read(br, binary.BigEndian, &onWire); err != nil {
		return Transmission{}, corrupt(filename, "reading crc", err)
	}
	if onWire != computed {
		return Transmission{}, corrupt(filename, "crc mismatch", nil)
	}

	return Transmission{
		EndpointURL:     endpointURL,
		Payload:         payload,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		CreatedAtUTC:    time.UnixMilli(int64(createdAtMs)).UTC(),
	}, nil
}

func corrupt(filename, reason string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s (%s): %v", ErrCorruptFrame, reason, filename, cause)
	}
	return fmt.Errorf("%w: %s (%s)", ErrCorruptFrame, reason, filename)
}

// countingCRCWriter writes fields to w while feeding the same bytes
// into a running CRC32C, so the trailer checksum covers exactly the
// preceding frame bytes.
type countingCRCWriter struct {
	w   io.Writer
	crc interface {
		Write([]byte) (int, error)
		Sum32() uint32
	}
}

func (cw *countingCRCWriter) write(p []byte) error {
	if _, err := cw.w.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := cw.crc.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

func (cw *countingCRCWriter) writeByte(b byte) error {
	return cw.write([]byte{b})
}

func (cw *countingCRCWriter) writeUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return cw.write(b[:])
}

func (cw *countingCRCWriter) writeUint64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return cw.write(b[:])
}

func (cw *countingCRCWriter) writeString(s string) error {
	return cw.writeBytes([]byte(s))
}

func (cw *countingCRCWriter) writeBytes(b []byte) error {
	if err := cw.writeUint32(uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return cw.write(b)
}

type countingCRCReader struct {
	r   io.Reader
	crc interface {
		Write([]byte) (int, error)
		Sum32() uint32
	}
}

func (cr *countingCRCReader) readFull(p []byte) error {
	if _, err := io.ReadFull(cr.r, p); err != nil {
		return err
	}
	_, _ = cr.crc.Write(p)
	return nil
}

func (cr *countingCRCReader) readByte() (byte, error) {
	var b [1]byte
	if err := cr.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (cr *countingCRCReader) readUint32() (uint32, error) {
	var b [4]byte
	if err := cr.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (cr *countingCRCReader) readUint64() (uint64, error) {
	var b [8]byte
	if err := cr.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (cr *countingCRCReader) readBytes() ([]byte, error) {
	n, err := cr.readUint32()
	if err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("field length %d exceeds %d byte cap", n, maxFieldLen)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if err := cr.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (cr *countingCRCReader) readString() (string, error) {
	b, err := cr.readBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("invalid utf-8")
	}
	return string(b), nil
}
