package graphstore

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"

	"clarium/internal/apperror"
)

// appendFrame appends one length-prefixed, checksummed record to f:
//   u32 length | u32 crc32(payload) | payload
// shared by the WAL and every partition's delta.log (spec §3/§4.3
// "framed append-only records ... per-record checksum").
func appendFrame(f *os.File, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))
	if _, err := f.Write(hdr[:]); err != nil {
		return apperror.Io("frame_write_failed", err)
	}
	if _, err := f.Write(payload); err != nil {
		return apperror.Io("frame_write_failed", err)
	}
	return nil
}

// syncPolicy controls when appendFrame's caller calls fsync (spec §4.3
// "configurable sync policy {always, batch, relaxed}").
type syncPolicy string

const (
	syncAlways  syncPolicy = "always"
	syncBatch   syncPolicy = "batch"
	syncRelaxed syncPolicy = "relaxed"
)

func syncFile(f *os.File, policy syncPolicy, force bool) error {
	if policy == syncRelaxed && !force {
		return nil
	}
	if err := f.Sync(); err != nil {
		return apperror.Io("fsync_failed", err)
	}
	return nil
}

// readFrames parses every well-formed frame in data in order, stopping
// (without error) at the first truncated or checksum-invalid frame —
// recovery replay tolerates a truncated tail and discards it (spec §4.3
// recovery, §7 "checksum fail -> discard").
func readFrames(data []byte) [][]byte {
	var out [][]byte
	off := 0
	for off+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[off : off+4])
		wantSum := binary.BigEndian.Uint32(data[off+4 : off+8])
		start := off + 8
		end := start + int(length)
		if end > len(data) {
			break // truncated tail
		}
		payload := data[start:end]
		if crc32.ChecksumIEEE(payload) != wantSum {
			break // checksum fail: discard this and everything after
		}
		out = append(out, bytes.Clone(payload))
		off = end
	}
	return out
}
