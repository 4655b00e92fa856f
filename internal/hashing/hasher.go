package hashing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// DefaultChunkSize is the read size used between cancellation checks.
const DefaultChunkSize = 256 * 1024

// Opener opens files for reading. fsscan.FS satisfies it.
type Opener interface {
	Open(name string) (fs.File, error)
}

// Hasher computes content hashes chunk by chunk so that a cancelled scan
// stops hashing at the next chunk boundary.
type Hasher struct {
	alg       Algorithm
	chunkSize int
	buffers   *bufferPool
}

func NewHasher(alg Algorithm, chunkSize, parallelism int) (*Hasher, error) {
	if _, err := alg.New(); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Hasher{
		alg:       alg,
		chunkSize: chunkSize,
		buffers:   newBufferPool(chunkSize, parallelism),
	}, nil
}

func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// HashFile returns the digest of the file at path and the number of bytes
// read. ctx is checked before every chunk.
func (h *Hasher) HashFile(ctx context.Context, fsys Opener, path string) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return h.HashReader(ctx, f)
}

// HashReader is HashFile over an already opened reader.
func (h *Hasher) HashReader(ctx context.Context, r io.Reader) ([]byte, int64, error) {
	digest, err := h.alg.New()
	if err != nil {
		return nil, 0, err
	}

	buf := h.buffers.get()
	defer h.buffers.put(buf)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, total, fmt.Errorf("read after %d bytes: %w", total, err)
		}
	}
	return digest.Sum(nil), total, nil
}
