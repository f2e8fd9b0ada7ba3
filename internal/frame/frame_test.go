// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	want := NewTransmission(
		"https://ingest.example.com/v1/track",
		[]byte(`{"name":"startup","props":{"a":"b"}}`),
		"application/json",
		"gzip",
		now,
	)

	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf, "test.trn")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.EndpointURL != want.EndpointURL {
		t.Errorf("EndpointURL = %q, want %q", got.EndpointURL, want.EndpointURL)
	}
	if got.ContentType != want.ContentType {
		t.Errorf("ContentType = %q, want %q", got.ContentType, want.ContentType)
	}
	if got.ContentEncoding != want.ContentEncoding {
		t.Errorf("ContentEncoding = %q, want %q", got.ContentEncoding, want.ContentEncoding)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, want.Payload)
	}
	if !got.CreatedAtUTC.Equal(want.CreatedAtUTC) {
		t.Errorf("CreatedAtUTC = %v, want %v", got.CreatedAtUTC, want.CreatedAtUTC)
	}
}

func TestWriteReadEmptyFields(t *testing.T) {
	want := NewTransmission("https://x", nil, "text/plain", "", time.Now())

	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf, "empty.trn")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Errorf("Payload = %v, want empty", got.Payload)
	}
	if got.ContentEncoding != "" {
		t.Errorf("ContentEncoding = %q, want empty", got.ContentEncoding)
	}
}

func TestReadNotAFrame(t *testing.T) {
	r := strings.NewReader("not a frame")
	if _, err := Read(r, "bad.trn"); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("Read error = %v, want ErrCorruptFrame", err)
	}
}

func TestReadUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, NewTransmission("https://x", []byte("p"), "text/plain", "", time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw := buf.Bytes()
	raw[0] = 2 // corrupt the version byte

	if _, err := Read(bytes.NewReader(raw), "v2.trn"); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("Read error = %v, want ErrCorruptFrame", err)
	}
}

func TestReadCRCMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, NewTransmission("https://x", []byte("payload"), "text/plain", "", time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip a bit in the trailing CRC

	if _, err := Read(bytes.NewReader(raw), "crc.trn"); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("Read error = %v, want ErrCorruptFrame", err)
	}
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, NewTransmission("https://x", []byte("payload"), "text/plain", "", time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw := buf.Bytes()[:10]

	if _, err := Read(bytes.NewReader(raw), "short.trn"); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("Read error = %v, want ErrCorruptFrame", err)
	}
}

func TestReadInvalidUTF8InString(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, NewTransmission("https://x", []byte("payload"), "text/plain", "", time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw := buf.Bytes()

	// The endpoint URL string immediately follows the version byte and
	// its 4-byte length prefix; corrupt its first content byte with a
	// lone continuation byte, which is never valid UTF-8 on its own.
	raw[5] = 0x80

	if _, err := Read(bytes.NewReader(raw), "badutf8.trn"); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("Read error = %v, want ErrCorruptFrame", err)
	}
}

func TestReadOversizedLength(t *testing.T) {
	// endpoint URL length field claims far more than maxFieldLen.
	var buf bytes.Buffer
	buf.WriteByte(Version)
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge length

	if _, err := Read(&buf, "huge.trn"); !errors.Is(err, ErrCorruptFrame) {
		t.Fatalf("Read error = %v, want ErrCorruptFrame", err)
	}
}

func TestRandomSuffixUnique(t *testing.T) {
	a, err := RandomSuffix()
	if err != nil {
		t.Fatalf("RandomSuffix: %v", err)
	}
	b, err := RandomSuffix()
	if err != nil {
		t.Fatalf("RandomSuffix: %v", err)
	}
	if a == b {
		t.Fatalf("two calls to RandomSuffix produced the same value: %q", a)
	}
	if len(a) != 32 {
		t.Errorf("len(RandomSuffix()) = %d, want 32 (128 bits hex)", len(a))
	}
}
