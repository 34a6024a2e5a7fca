package upstream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError(t *testing.T) {
	err := error(&TransportError{URL: "https://example.com/", Err: context.DeadlineExceeded})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "https://example.com/", te.URL)
	assert.Contains(t, err.Error(), "https://example.com/")
}

func TestReadBody(t *testing.T) {
	b, err := ReadBody(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = ReadBody(strings.NewReader("hello!"), 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	b, err = ReadBody(strings.NewReader("hello!"), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello!", string(b))
}
