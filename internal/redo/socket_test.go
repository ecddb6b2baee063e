package redo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

func serveOneRedoRequest(t *testing.T, ln net.Listener, image []byte) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	var req socketRequest
	require.NoError(t, json.NewDecoder(conn).Decode(&req))

	resp := socketResponse{Image: base64.StdEncoding.EncodeToString(image)}
	require.NoError(t, json.NewEncoder(conn).Encode(resp))
}

func TestSocketRequestRedoRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOneRedoRequest(t, ln, []byte("reconstructed"))
	}()

	mgr := NewSocket("tcp", ln.Addr().String(), time.Second)
	tag := keycodec.BufferTag{Rel: keycodec.RelTag{Relation: 1}, Block: 0}
	records := []keycodec.WALRecord{{LSN: 5, Data: []byte("rec")}}

	img, err := mgr.RequestRedo(context.Background(), tag, 5, []byte("base"), records)
	require.NoError(t, err)
	require.Equal(t, []byte("reconstructed"), img)

	<-done
}

func TestSocketRequestRedoRemoteError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req socketRequest
		_ = json.NewDecoder(conn).Decode(&req)
		_ = json.NewEncoder(conn).Encode(socketResponse{Error: "no base image"})
	}()

	mgr := NewSocket("tcp", ln.Addr().String(), time.Second)
	tag := keycodec.BufferTag{Rel: keycodec.RelTag{Relation: 1}, Block: 0}

	_, err = mgr.RequestRedo(context.Background(), tag, 5, nil, nil)
	require.Error(t, err)
}

func TestSocketRequestRedoDialFailure(t *testing.T) {
	mgr := NewSocket("tcp", "127.0.0.1:1", 100*time.Millisecond)
	tag := keycodec.BufferTag{Rel: keycodec.RelTag{Relation: 1}, Block: 0}

	_, err := mgr.RequestRedo(context.Background(), tag, 5, []byte("base"), nil)
	require.Error(t, err)
}
