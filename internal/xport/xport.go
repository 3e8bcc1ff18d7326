// Package xport implements the command transport the DMA engine manager
// depends on as an external collaborator: a length-prefixed
// request/response socket to a supervisor daemon exposing a single
// operation, submit_and_await(handle, request_bytes) -> reply_bytes.
package xport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Transport is the command-transport contract. Implementations must be
// safe for concurrent use by multiple callers submitting independent
// requests.
type Transport interface {
	SubmitAndAwait(ctx context.Context, request []byte) ([]byte, error)
	Close() error
}

// UnixTransport submits length-prefixed frames over a unix domain socket
// to a supervisor daemon, serializing submissions on a single connection
// under one mutex.
type UnixTransport struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialUnixTransport connects to a supervisor daemon listening on a unix
// domain socket.
func DialUnixTransport(socketPath string) (*UnixTransport, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.Wrapf(err, "xport: dial %s", socketPath)
	}
	return &UnixTransport{conn: conn}, nil
}

// SubmitAndAwait writes a uint32-length-prefixed request and blocks for a
// uint32-length-prefixed reply. The mutex serializes submissions so
// replies can't be attributed to the wrong request on a connection
// shared by multiple callers.
func (t *UnixTransport) SubmitAndAwait(ctx context.Context, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
		defer t.conn.SetDeadline(time.Time{})
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(request)))
	if _, err := t.conn.Write(header[:]); err != nil {
		return nil, errors.Wrap(err, "xport: write request header")
	}
	if _, err := t.conn.Write(request); err != nil {
		return nil, errors.Wrap(err, "xport: write request body")
	}

	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return nil, errors.Wrap(err, "xport: read reply header")
	}
	replyLen := binary.LittleEndian.Uint32(header[:])
	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(t.conn, reply); err != nil {
		return nil, errors.Wrap(err, "xport: read reply body")
	}
	return reply, nil
}

// Close closes the underlying connection.
func (t *UnixTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

var _ Transport = (*UnixTransport)(nil)

// DMASubmissionRequest is the fixed-length wire record for a DMA
// submission request sent over Transport.
type DMASubmissionRequest struct {
	SrcKind uint32
	SrcPid  int32
	SrcAddr uint64
	DstKind uint32
	DstPid  int32
	DstAddr uint64
	Length  uint64
}

const dmaSubmissionRequestSize = 4 + 4 + 8 + 4 + 4 + 8 + 8

// Marshal encodes the request in the wire's native little-endian layout.
func (r DMASubmissionRequest) Marshal() []byte {
	buf := make([]byte, dmaSubmissionRequestSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.SrcKind)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.SrcPid))
	binary.LittleEndian.PutUint64(buf[8:16], r.SrcAddr)
	binary.LittleEndian.PutUint32(buf[16:20], r.DstKind)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.DstPid))
	binary.LittleEndian.PutUint64(buf[24:32], r.DstAddr)
	binary.LittleEndian.PutUint64(buf[32:40], r.Length)
	return buf
}

// UnmarshalDMASubmissionRequest decodes a DMASubmissionRequest.
func UnmarshalDMASubmissionRequest(buf []byte) (DMASubmissionRequest, error) {
	if len(buf) < dmaSubmissionRequestSize {
		return DMASubmissionRequest{}, fmt.Errorf("xport: short DMA submission request: %d bytes", len(buf))
	}
	return DMASubmissionRequest{
		SrcKind: binary.LittleEndian.Uint32(buf[0:4]),
		SrcPid:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		SrcAddr: binary.LittleEndian.Uint64(buf[8:16]),
		DstKind: binary.LittleEndian.Uint32(buf[16:20]),
		DstPid:  int32(binary.LittleEndian.Uint32(buf[20:24])),
		DstAddr: binary.LittleEndian.Uint64(buf[24:32]),
		Length:  binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}

// DecodeReply interprets a reply payload as a signed-integer status:
// 0 on success, negative errno-style on failure.
func DecodeReply(reply []byte) (int32, error) {
	if len(reply) < 4 {
		return 0, fmt.Errorf("xport: short reply: %d bytes", len(reply))
	}
	return int32(binary.LittleEndian.Uint32(reply[0:4])), nil
}
