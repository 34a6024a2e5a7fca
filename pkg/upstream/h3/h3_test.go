package h3

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/mosproxy/pkg/upstream"
)

func TestUpstream_noServer(t *testing.T) {
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := c.LocalAddr().String()
	require.NoError(t, c.Close())

	u := NewUpstream(Opts{Timeout: 100 * time.Millisecond})
	defer u.Close()

	_, err = u.Get(context.Background(), "https://"+addr+"/")
	assert.ErrorIs(t, err, upstream.ErrTransport)
}

func TestUpstream_badURL(t *testing.T) {
	u := NewUpstream(Opts{})
	defer u.Close()

	_, err := u.Get(context.Background(), "https://[::1/")
	assert.ErrorIs(t, err, upstream.ErrTransport)
}
