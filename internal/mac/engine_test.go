package mac

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	assert := require.New(t)

	for _, e := range []error{ErrBusy, ErrNotJoined, ErrNotConfigured, ErrClosed} {
		err := errors.Wrap(e, "send error")
		assert.Equal(e, errors.Cause(err))
		assert.True(errors.Is(err, e))
	}
}

func TestEventTypeString(t *testing.T) {
	assert := require.New(t)

	assert.Equal("JOINED", EventJoined.String())
	assert.Equal("TX_FAILED", EventTXFailed.String())
	assert.Equal("EventType(0)", EventType(0).String())
}
