package tschunk

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/klauspost/compress/zstd"

	"clarium/internal/apperror"
	"clarium/pkg/types"
)

// chunkBody is the on-disk payload of one chunk file: column order, the
// observed type per column (for schema-widening bookkeeping on read), and
// the row-major-free columnar arrays themselves. gob handles types.Value's
// recursive ListAny field natively.
type chunkBody struct {
	Columns []string
	Kinds   []uint8
	Dims    []int
	Data    map[string][]types.Value
	Rows    int
}

func encodeBody(b chunkBody, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, apperror.Internal("chunk_encode_failed", "%v", err)
	}
	if !compress {
		return buf.Bytes(), nil
	}
	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	if err != nil {
		return nil, apperror.Internal("zstd_writer_failed", "%v", err)
	}
	if _, err := zw.Write(buf.Bytes()); err != nil {
		_ = zw.Close()
		return nil, apperror.Internal("zstd_write_failed", "%v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, apperror.Internal("zstd_close_failed", "%v", err)
	}
	return zbuf.Bytes(), nil
}

func decodeBody(data []byte, compressed bool) (chunkBody, error) {
	var b chunkBody
	var r io.Reader = bytes.NewReader(data)
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return b, apperror.Io("zstd_reader_failed", err)
		}
		defer zr.Close()
		r = zr
	}
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return b, apperror.Io("chunk_decode_failed", err)
	}
	return b, nil
}

// extIsCompressed reports whether ext names the compressed chunk body
// format (spec SPEC_FULL §4.1: ".gz.clc" vs plain ".clc"; legacy
// "data.<ext>" files are read uncompressed regardless of ext).
func extIsCompressed(ext string) bool {
	return ext == ExtCompressed
}
