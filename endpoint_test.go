package rediscluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointHostPort(t *testing.T) {
	ep, err := ParseEndpoint("127.0.0.1:7000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ep.Host)
	assert.Equal(t, 7000, ep.Port)
	assert.Equal(t, "127.0.0.1:7000", ep.Key())
}

func TestParseEndpointSchemeAndDBStripped(t *testing.T) {
	ep, err := ParseEndpoint("redis://10.0.0.1:6380/0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ep.Host)
	assert.Equal(t, 6380, ep.Port)
}

func TestParseEndpointMissingPort(t *testing.T) {
	_, err := ParseEndpoint("10.0.0.1")
	assert.Error(t, err)
}

func TestParseEndpointBadPort(t *testing.T) {
	_, err := ParseEndpoint("10.0.0.1:notaport")
	assert.Error(t, err)
}

func TestEndpointKeyFormat(t *testing.T) {
	assert.Equal(t, "host:1234", endpointKey("host", 1234))
}
