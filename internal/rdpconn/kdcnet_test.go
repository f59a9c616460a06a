package rdpconn

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKDCNetworkClientSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 3)
		_, _ = conn.Read(buf)

		reply := []byte("ok!")
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(reply)))
		_, _ = conn.Write(lenPrefix[:])
		_, _ = conn.Write(reply)
	}()

	c := NewKDCNetworkClient()
	out, err := c.Send("tcp", "tcp://"+ln.Addr().String(), []byte("req"))
	require.NoError(t, err)
	require.Equal(t, byte(0), out[0])
	require.Equal(t, "ok!", string(out[4:]))
}

func TestKDCNetworkClientRejectsNonTCP(t *testing.T) {
	c := NewKDCNetworkClient()
	_, err := c.Send("udp", "udp://example.com:88", nil)
	require.Error(t, err)
}

func TestKDCNetworkClientRejectsOversizedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Read(make([]byte, 8))
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], maxKDCResponseLen+1)
		_, _ = conn.Write(lenPrefix[:])
	}()

	c := NewKDCNetworkClient()
	_, err = c.Send("tcp", "tcp://"+ln.Addr().String(), []byte("request"))
	require.Error(t, err)
}
