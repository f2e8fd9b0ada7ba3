// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package channel

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
)

// Payloads below this size aren't worth the gzip frame overhead.
const compressionThreshold = 1024

// pgzipThreshold is where the parallel gzip encoder starts paying for
// itself over the single-threaded one.
const pgzipThreshold = 64 * 1024

// compressPayload gzips payload when it's large enough to be worth it,
// returning the compressed bytes and "gzip", or the original bytes
// and "" when compression was skipped or failed.
func compressPayload(payload []byte) ([]byte, string) {
	if len(payload) < compressionThreshold {
		return payload, ""
	}

	var buf bytes.Buffer
	if len(payload) >= pgzipThreshold {
		if err := pgzipInto(&buf, payload); err != nil {
			return payload, ""
		}
	} else {
		if err := gzipInto(&buf, payload); err != nil {
			return payload, ""
		}
	}
	return buf.Bytes(), "gzip"
}

func gzipInto(buf *bytes.Buffer, payload []byte) error {
	w, err := gzip.NewWriterLevel(buf, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return fmt.Errorf("gzip write: %w", err)
	}
	return w.Close()
}

func pgzipInto(buf *bytes.Buffer, payload []byte) error {
	w, err := pgzip.NewWriterLevel(buf, pgzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("creating pgzip writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return fmt.Errorf("pgzip write: %w", err)
	}
	return w.Close()
}
