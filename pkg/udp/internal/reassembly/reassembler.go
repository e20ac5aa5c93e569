// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reassembly rebuilds oversized packets from their MultiPartChunkDtos.
package reassembly

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

// Config of a Reassembler.
type Config struct {
	// Expiry after which an incomplete transfer is dropped.
	Expiry time.Duration
	// MaxChunks per multi-part message.
	MaxChunks uint32
	// MaxTransfers limits the admission of new transfers; zero means unbounded. Known transfers are never evicted
	// for capacity, only after their Expiry.
	MaxTransfers int
}

// DefaultConfig keeps abandoned transfers for five minutes.
func DefaultConfig() Config {
	return Config{
		Expiry:       5 * time.Minute,
		MaxChunks:    8192,
		MaxTransfers: 1024,
	}
}

// Handler receives each reassembled PacketDto exactly once.
type Handler func(pkt *wire.PacketDto)

// transfer is the reassembly state of one multi-part message.
type transfer struct {
	slots     []atomic.Pointer[[]byte]
	remaining atomic.Int32
}

func newTransfer(count uint32) *transfer {
	t := &transfer{slots: make([]atomic.Pointer[[]byte], count)}
	t.remaining.Store(int32(count))
	return t
}

// insert a chunk's data. The return value indicates if this chunk completed the transfer.
func (t *transfer) insert(index uint32, data []byte) bool {
	if !t.slots[index].CompareAndSwap(nil, &data) {
		return false
	}
	return t.remaining.Add(-1) == 0
}

func (t *transfer) concat() []byte {
	size := 0
	for i := range t.slots {
		size += len(*t.slots[i].Load())
	}

	buf := make([]byte, 0, size)
	for i := range t.slots {
		buf = append(buf, *t.slots[i].Load()...)
	}
	return buf
}

// Reassembler collects the chunks of multi-part messages. Transfers are removed either on completion or after
// their expiry, whichever comes first.
//
// As chunks are acknowledged before being stored, a chunk must pass Admit before its acknowledgement. A refused
// chunk is resent by its peer later on.
type Reassembler struct {
	config  Config
	handler Handler

	mutex     sync.Mutex
	transfers *expirable.LRU[uuid.UUID, *transfer]

	completed atomic.Uint64
	expired   atomic.Uint64
}

// NewReassembler for the given Config. The Handler is called from HandleChunk's goroutine.
func NewReassembler(config Config, handler Handler) *Reassembler {
	r := &Reassembler{
		config:  config,
		handler: handler,
	}
	r.transfers = expirable.NewLRU[uuid.UUID, *transfer](0, r.onEvict, config.Expiry)
	return r
}

func (r *Reassembler) onEvict(id uuid.UUID, t *transfer) {
	if t.remaining.Load() > 0 {
		r.expired.Add(1)
		log.WithFields(log.Fields{
			"multipart": id,
			"missing":   t.remaining.Load(),
			"chunks":    len(t.slots),
		}).Debug("Dropped incomplete multi-part message")
	}
}

// Admit checks if a chunk might be stored, i.e., its transfer is already known or another transfer fits. Concurrent
// admissions might exceed MaxTransfers slightly.
func (r *Reassembler) Admit(chunk *wire.MultiPartChunkDto) bool {
	if r.config.MaxTransfers <= 0 {
		return true
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.transfers.Contains(chunk.MultiPartMessageId) {
		return true
	}
	return r.transfers.Len() < r.config.MaxTransfers
}

func (r *Reassembler) getOrCreate(chunk *wire.MultiPartChunkDto) (*transfer, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if t, ok := r.transfers.Get(chunk.MultiPartMessageId); ok {
		if uint32(len(t.slots)) != chunk.ChunkCount {
			return nil, fmt.Errorf("chunk count %d differs from known %d for %v",
				chunk.ChunkCount, len(t.slots), chunk.MultiPartMessageId)
		}
		return t, nil
	}

	t := newTransfer(chunk.ChunkCount)
	r.transfers.Add(chunk.MultiPartMessageId, t)
	return t, nil
}

// HandleChunk stores a received chunk. Repeated chunk indices are ignored. When the last missing chunk arrives, the
// original PacketDto is decoded and passed to the Handler.
func (r *Reassembler) HandleChunk(chunk *wire.MultiPartChunkDto) error {
	if chunk.ChunkCount == 0 || chunk.ChunkIndex >= chunk.ChunkCount {
		return fmt.Errorf("chunk index %d invalid for %d chunks", chunk.ChunkIndex, chunk.ChunkCount)
	} else if r.config.MaxChunks > 0 && chunk.ChunkCount > r.config.MaxChunks {
		return fmt.Errorf("multi-part message of %d chunks exceeds limit of %d", chunk.ChunkCount, r.config.MaxChunks)
	}

	t, err := r.getOrCreate(chunk)
	if err != nil {
		return err
	}

	if !t.insert(chunk.ChunkIndex, chunk.Data()) {
		return nil
	}

	r.transfers.Remove(chunk.MultiPartMessageId)
	r.completed.Add(1)

	frame, err := wire.DecodeFrame(t.concat())
	if err != nil {
		return fmt.Errorf("decoding multi-part message %v failed: %w", chunk.MultiPartMessageId, err)
	}

	pkt, ok := frame.(*wire.PacketDto)
	if !ok {
		return fmt.Errorf("multi-part message %v contains %v instead of a packet",
			chunk.MultiPartMessageId, frame.FrameType())
	} else if _, nested := pkt.Chunk(); nested {
		return fmt.Errorf("multi-part message %v contains another chunk", chunk.MultiPartMessageId)
	}

	r.handler(pkt)
	return nil
}

// Pending returns the number of incomplete transfers.
func (r *Reassembler) Pending() int {
	return r.transfers.Len()
}

// Completed returns the number of reassembled messages.
func (r *Reassembler) Completed() uint64 {
	return r.completed.Load()
}

// Expired returns the number of dropped incomplete transfers.
func (r *Reassembler) Expired() uint64 {
	return r.expired.Load()
}
