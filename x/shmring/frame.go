package shmring

import (
	"context"
	"encoding/binary"

	"vslib-go/errcode"
)

// headerLen is the size of the little-endian uint16 length prefix.
const headerLen = 2

// MaxFrame returns the largest payload a single frame on r may carry.
func (r *Ring) MaxFrame() int {
	return min(r.Cap()-headerLen, 0xFFFF)
}

// TryWriteFrame writes payload as one length-prefixed frame. It writes
// nothing and returns false when the ring lacks room for the whole frame.
func (r *Ring) TryWriteFrame(payload []byte) (bool, error) {
	if len(payload) > r.MaxFrame() {
		return false, &errcode.E{C: errcode.FrameTooLarge, Op: "shmring.TryWriteFrame"}
	}
	if r.Space() < headerLen+len(payload) {
		return false, nil
	}
	var hdr [headerLen]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(payload)))
	// Space was checked and this is the only producer, so both writes
	// complete in full.
	r.TryWriteFrom(hdr[:])
	r.TryWriteFrom(payload)
	return true, nil
}

// TryReadFrame returns the next complete frame, or nil when none is
// buffered yet. A frame longer than limit is consumed and reported as
// FrameTooLarge.
func (r *Ring) TryReadFrame(limit int) ([]byte, error) {
	var hdr [headerLen]byte
	if r.peek(hdr[:], 0) < headerLen {
		return nil, nil
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if r.Available() < headerLen+n {
		return nil, nil
	}
	if n > limit {
		r.discard(headerLen + n)
		return nil, &errcode.E{C: errcode.FrameTooLarge, Op: "shmring.TryReadFrame"}
	}
	out := make([]byte, n)
	r.peek(out, headerLen)
	r.discard(headerLen + n)
	return out, nil
}

// WriteFrame blocks until the frame fits or ctx is done.
func (r *Ring) WriteFrame(ctx context.Context, payload []byte) error {
	for {
		ok, err := r.TryWriteFrame(payload)
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return &errcode.E{C: errcode.Timeout, Op: "shmring.WriteFrame", Err: ctx.Err()}
		case <-r.Writable():
		}
	}
}

// ReadFrame blocks until a complete frame arrives or ctx is done.
func (r *Ring) ReadFrame(ctx context.Context, limit int) ([]byte, error) {
	for {
		p, err := r.TryReadFrame(limit)
		if err != nil || p != nil {
			return p, err
		}
		select {
		case <-ctx.Done():
			return nil, &errcode.E{C: errcode.Timeout, Op: "shmring.ReadFrame", Err: ctx.Err()}
		case <-r.Readable():
		}
	}
}
