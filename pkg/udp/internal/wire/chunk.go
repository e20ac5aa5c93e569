// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"github.com/google/uuid"
)

// SplitChunks fragments a serialized frame into MultiPartChunkDtos of at most chunkSize bytes. The chunks reference
// the given data without copying it.
func SplitChunks(multiPartId uuid.UUID, data []byte, chunkSize int) []*MultiPartChunkDto {
	if chunkSize <= 0 {
		panic("wire: chunk size must be positive")
	}

	count := (len(data) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}

	chunks := make([]*MultiPartChunkDto, count)
	for i := range chunks {
		offset := i * chunkSize
		length := chunkSize
		if rest := len(data) - offset; rest < length {
			length = rest
		}

		chunks[i] = &MultiPartChunkDto{
			MultiPartMessageId: multiPartId,
			ChunkIndex:         uint32(i),
			ChunkCount:         uint32(count),
			Body:               data,
			BodyOffset:         offset,
			BodyLength:         length,
		}
	}
	return chunks
}
