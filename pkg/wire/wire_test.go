package wire

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
	"github.com/cuemby/ridgeline/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, types.MessageTypeFileBcast, []byte("hello")))

	typ, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeFileBcast, typ)
	assert.Equal(t, []byte("hello"), body)
}

func TestReadFrameRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	var hdr [headerLen]byte
	hdr[2] = 0xff // length field far exceeds MaxBodyLen
	hdr[3] = 0xff
	hdr[4] = 0xff
	hdr[5] = 0xff
	buf.Write(hdr[:])

	_, _, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	req := SignalRequest{JobID: 7, StepID: 2, Signal: 15, Flags: types.StepFlagNoKill}
	body, err := EncodePayload(req)
	require.NoError(t, err)

	var out SignalRequest
	require.NoError(t, DecodePayload(body, &out))
	assert.Equal(t, req, out)
}

func TestClientServerRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer()
	srv.Handle(types.MessageTypeJobStepCancel, func(ctx context.Context, body []byte) ([]byte, error) {
		var req SignalRequest
		if err := DecodePayload(body, &req); err != nil {
			return nil, err
		}
		return EncodePayload(req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(ctx, conn)
		}
	}()

	payload, err := EncodePayload(SignalRequest{JobID: 1, StepID: 2, Signal: 15})
	require.NoError(t, err)

	c := &Client{DialTimeout: time.Second}
	reply, err := c.Send(context.Background(), ln.Addr().String(), types.ForwardRequest{
		Type:    types.MessageTypeJobStepCancel,
		Payload: payload,
	})
	require.NoError(t, err)

	var out SignalRequest
	require.NoError(t, DecodePayload(reply, &out))
	assert.Equal(t, uint32(1), out.JobID)
	assert.Equal(t, uint32(2), out.StepID)
}

func TestClientSendDialFailureIsTransportError(t *testing.T) {
	c := &Client{DialTimeout: 50 * time.Millisecond}
	_, err := c.Send(context.Background(), "127.0.0.1:1", types.ForwardRequest{Type: types.MessageTypeForward})
	assert.Error(t, err)
	assert.True(t, ridgeerr.IsCode(err, ridgeerr.CodeTransport))
}
