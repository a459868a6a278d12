package serverlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("10.0.0.1:8848")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "10.0.0.1", Port: 8848}, ep)
	assert.Equal(t, "10.0.0.1:8848", ep.Addr())

	_, err = ParseEndpoint("no-port")
	assert.Error(t, err)

	_, err = ParseEndpoint("host:notanumber")
	assert.Error(t, err)
}

func TestStaticResolver(t *testing.T) {
	eps := []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 2}}
	r := NewStatic(eps...)

	got := r.Endpoints()
	assert.Equal(t, eps, got)

	// Mutating the snapshot must not affect the resolver.
	got[0].Host = "mutated"
	assert.Equal(t, "a", r.Endpoints()[0].Host)

	assert.Nil(t, r.Watch())
	assert.NoError(t, r.Close())
}

func TestPickerRoundRobin(t *testing.T) {
	eps := []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 2}, {Host: "c", Port: 3}}
	var p Picker

	var hosts []string
	for i := 0; i < 6; i++ {
		ep, err := p.Next(eps)
		require.NoError(t, err)
		hosts = append(hosts, ep.Host)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, hosts)
}

func TestPickerEmptyList(t *testing.T) {
	var p Picker
	_, err := p.Next(nil)
	assert.Error(t, err)
}
