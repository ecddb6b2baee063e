package redo

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

// Socket is a Manager that delegates reconstruction to an external redo
// process reachable over a Unix domain socket (or, for local
// development, a plain TCP address), one dial per request. This
// mirrors the dial-per-request style the control plane's proxy uses to
// reach a compute node (internal/proxy/router.go), generalized here
// into a small synchronous request/response protocol rather than raw
// byte forwarding.
type Socket struct {
	Network string // "unix" or "tcp"
	Address string
	Timeout time.Duration
}

// NewSocket returns a Socket-backed Manager dialing network/address.
// A zero timeout defaults to 10s.
func NewSocket(network, address string, timeout time.Duration) *Socket {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Socket{Network: network, Address: address, Timeout: timeout}
}

type socketRequest struct {
	Tag       string                `json:"tag"`
	TargetLSN uint64                `json:"target_lsn"`
	Base      string                `json:"base,omitempty"` // base64
	Records   []socketRequestRecord `json:"records"`
}

type socketRequestRecord struct {
	LSN            uint64 `json:"lsn"`
	WillInit       bool   `json:"will_init"`
	MainDataOffset uint32 `json:"main_data_offset"`
	Data           string `json:"data"` // base64
}

type socketResponse struct {
	Image string `json:"image,omitempty"` // base64
	Error string `json:"error,omitempty"`
}

// RequestRedo sends (tag, targetLSN, base, records) to the configured
// redo process and returns its reconstructed image.
func (s *Socket) RequestRedo(ctx context.Context, tag keycodec.BufferTag, targetLSN keycodec.Lsn, base []byte, records []keycodec.WALRecord) ([]byte, error) {
	dialer := net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, s.Network, s.Address)
	if err != nil {
		return nil, fmt.Errorf("redo: dial %s %s: %w: %w", s.Network, s.Address, ErrRedoFailed, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.Timeout))
	}

	req := socketRequest{
		Tag:       tag.String(),
		TargetLSN: uint64(targetLSN),
		Base:      base64.StdEncoding.EncodeToString(base),
		Records:   make([]socketRequestRecord, len(records)),
	}
	for i, r := range records {
		req.Records[i] = socketRequestRecord{
			LSN:            uint64(r.LSN),
			WillInit:       r.WillInit,
			MainDataOffset: r.MainDataOffset,
			Data:           base64.StdEncoding.EncodeToString(r.Data),
		}
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("redo: encode request for %s: %w: %w", tag, ErrRedoFailed, err)
	}

	var resp socketResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("redo: decode response for %s: %w: %w", tag, ErrRedoFailed, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("redo: remote error for %s: %s: %w", tag, resp.Error, ErrRedoFailed)
	}

	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("redo: decode image for %s: %w: %w", tag, ErrRedoFailed, err)
	}
	return img, nil
}
