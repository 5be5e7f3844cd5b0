package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sync"
	"time"

	"quorumkv/internal/value"
)

// walRecord is one durable entry: a key plus the Value written for it,
// carrying the timestamp, expiration and tombstone metadata conflict
// resolution needs.
type walRecord struct {
	Key   []byte
	Value value.Value
}

const (
	payloadLenBytes = 4
	checksumBytes   = 4
	tsBytes         = 8
	expiresBytes    = 8
	tombstoneBytes  = 1
	lenFieldBytes   = 4

	defaultWALBufferBytes = 4 * 1024 * 1024
	minWALBufferBytes     = 128
	defaultWALQueueDepth  = 1024
)

// walWriteMsg is one pending append: the encoded record and a channel
// the caller blocks on until it has been durably buffered (and,
// depending on policy, flushed).
type walWriteMsg struct {
	data []byte
	done chan error
}

// wal is a single-writer, append-only log of walRecords. A lone
// goroutine owns the active file handle and in-memory buffer;
// everything else reaches it through a channel.
type wal struct {
	path           string
	activeSegment  *os.File
	buffer         bytes.Buffer
	maxBufferBytes int

	writes chan walWriteMsg
	flush  *time.Ticker
	log    *slog.Logger

	stopped   chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// walConfig tunes the WAL's buffering and backpressure.
type walConfig struct {
	Path                string
	FlushInterval       time.Duration
	MaxEnqueuedMutation int
	BufferBytes         int
}

func openWAL(cfg walConfig, logger *slog.Logger) (*wal, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultWALBufferBytes
	}
	if bufferBytes < minWALBufferBytes {
		bufferBytes = minWALBufferBytes
	}
	queueDepth := cfg.MaxEnqueuedMutation
	if queueDepth <= 0 {
		queueDepth = defaultWALQueueDepth
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	w := &wal{
		path:           cfg.Path,
		activeSegment:  f,
		maxBufferBytes: bufferBytes,
		writes:         make(chan walWriteMsg, queueDepth),
		flush:          time.NewTicker(flushInterval),
		log:            logger,
		stopped:        make(chan struct{}),
		finished:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Append durably enqueues rec, blocking until it has been buffered by
// the writer goroutine (not necessarily fsynced, see flush policy).
func (w *wal) Append(rec walRecord) error {
	msg := walWriteMsg{data: encodeRecord(rec), done: make(chan error, 1)}
	select {
	case w.writes <- msg:
		return <-msg.done
	case <-time.After(5 * time.Second):
		return errors.New("wal: timeout enqueuing record")
	}
}

func (w *wal) run() {
	for {
		select {
		case msg := <-w.writes:
			err := w.write(msg.data)
			msg.done <- err
		case <-w.flush.C:
			if err := w.doFlush(); err != nil && w.log != nil {
				w.log.Warn("wal periodic flush failed", "error", err)
			}
		case <-w.stopped:
			w.drain()
			if err := w.doFlush(); err != nil && w.log != nil {
				w.log.Warn("wal shutdown flush failed", "error", err)
			}
			w.flush.Stop()
			_ = w.activeSegment.Close()
			close(w.finished)
			return
		}
	}
}

// drain serves appends that were already queued when shutdown began,
// so no Append caller is left blocked on its done channel.
func (w *wal) drain() {
	for {
		select {
		case msg := <-w.writes:
			msg.done <- w.write(msg.data)
		default:
			return
		}
	}
}

func (w *wal) write(data []byte) error {
	if len(data) > w.maxBufferBytes {
		return fmt.Errorf("wal: record of %d bytes exceeds buffer of %d", len(data), w.maxBufferBytes)
	}
	if w.buffer.Len()+len(data) > w.maxBufferBytes {
		if err := w.doFlush(); err != nil {
			return err
		}
	}
	_, err := w.buffer.Write(data)
	return err
}

func (w *wal) doFlush() error {
	if w.buffer.Len() == 0 {
		return nil
	}
	if _, err := w.activeSegment.Write(w.buffer.Bytes()); err != nil {
		return fmt.Errorf("wal flush write: %w", err)
	}
	if err := w.activeSegment.Sync(); err != nil {
		return fmt.Errorf("wal flush sync: %w", err)
	}
	w.buffer.Reset()
	return nil
}

// Close stops the writer goroutine and blocks until the final flush
// and fsync have completed. Idempotent.
func (w *wal) Close() error {
	w.closeOnce.Do(func() {
		close(w.stopped)
		<-w.finished
	})
	return nil
}

// loadWAL replays every well-formed record in the WAL file in order,
// stopping at the first corrupted or truncated record. Everything past
// a torn tail write is discarded.
func loadWAL(path string) ([]walRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open wal for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []walRecord
	for {
		rec, ok, err := readRecord(r)
		if err != nil || !ok {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecord(r *bufio.Reader) (walRecord, bool, error) {
	header := make([]byte, payloadLenBytes+checksumBytes)
	if _, err := readFull(r, header); err != nil {
		return walRecord{}, false, err
	}
	payloadLen := binary.BigEndian.Uint32(header[:payloadLenBytes])
	expectedCRC := binary.BigEndian.Uint32(header[payloadLenBytes:])

	payload := make([]byte, payloadLen)
	if _, err := readFull(r, payload); err != nil {
		return walRecord{}, false, err
	}
	if crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli)) != expectedCRC {
		return walRecord{}, false, errors.New("wal: checksum mismatch")
	}
	rec, err := decodePayload(payload)
	if err != nil {
		return walRecord{}, false, err
	}
	return rec, true, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// encodeRecord lays out a walRecord as:
//
//	| PayloadLen | CRC32C | Timestamp | ExpiresAt | Tombstone | KeyLen | Key | DataLen | Data |
//	| 4 bytes    | 4 bytes| 8 bytes   | 8 bytes   | 1 byte    | 4 bytes| K   | 4 bytes | V    |
func encodeRecord(rec walRecord) []byte {
	payload := make([]byte, 0, tsBytes+expiresBytes+tombstoneBytes+lenFieldBytes+len(rec.Key)+lenFieldBytes+len(rec.Value.Data))
	payload = appendUint64(payload, uint64(rec.Value.Timestamp))
	payload = appendUint64(payload, uint64(rec.Value.ExpiresAt))
	if rec.Value.Tombstone {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = appendUint32(payload, uint32(len(rec.Key)))
	payload = append(payload, rec.Key...)
	payload = appendUint32(payload, uint32(len(rec.Value.Data)))
	payload = append(payload, rec.Value.Data...)

	checksum := crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli))

	out := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	out = appendUint32(out, uint32(len(payload)))
	out = appendUint32(out, checksum)
	out = append(out, payload...)
	return out
}

func decodePayload(payload []byte) (walRecord, error) {
	min := tsBytes + expiresBytes + tombstoneBytes + lenFieldBytes + lenFieldBytes
	if len(payload) < min {
		return walRecord{}, fmt.Errorf("wal: payload too short: %d bytes", len(payload))
	}
	pos := 0
	ts := int64(binary.BigEndian.Uint64(payload[pos : pos+tsBytes]))
	pos += tsBytes
	expiresAt := int64(binary.BigEndian.Uint64(payload[pos : pos+expiresBytes]))
	pos += expiresBytes
	tombstone := payload[pos] != 0
	pos += tombstoneBytes

	keyLen := binary.BigEndian.Uint32(payload[pos : pos+lenFieldBytes])
	pos += lenFieldBytes
	if pos+int(keyLen) > len(payload) {
		return walRecord{}, fmt.Errorf("wal: key length %d exceeds payload", keyLen)
	}
	key := make([]byte, keyLen)
	copy(key, payload[pos:pos+int(keyLen)])
	pos += int(keyLen)

	if pos+lenFieldBytes > len(payload) {
		return walRecord{}, errors.New("wal: missing data length field")
	}
	dataLen := binary.BigEndian.Uint32(payload[pos : pos+lenFieldBytes])
	pos += lenFieldBytes
	if pos+int(dataLen) > len(payload) {
		return walRecord{}, fmt.Errorf("wal: data length %d exceeds payload", dataLen)
	}
	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		copy(data, payload[pos:pos+int(dataLen)])
	}

	return walRecord{
		Key: key,
		Value: value.Value{
			Timestamp: ts,
			ExpiresAt: expiresAt,
			Tombstone: tombstone,
			Data:      data,
		},
	}, nil
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
