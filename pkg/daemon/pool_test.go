package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/types"
)

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func commit(t *testing.T, p *Pool, requested int) int {
	t.Helper()
	port, err := p.Reserve(requested)
	require.NoError(t, err)
	require.NoError(t, p.Commit(BrowserInfo{Port: port, Browser: types.BrowserChromium}, &closer{}))
	return port
}

func TestPoolReusesLowestFreedPort(t *testing.T) {
	p := NewPool(9222, 9230, nil)

	assert.Equal(t, 9222, commit(t, p, 0))
	assert.Equal(t, 9223, commit(t, p, 0))
	assert.Equal(t, 9224, commit(t, p, 0))

	_, info, ok := p.Remove(9223)
	require.True(t, ok)
	assert.Equal(t, 9223, info.Port)

	assert.Equal(t, 9223, commit(t, p, 0))

	ports := []int{}
	for _, b := range p.List() {
		ports = append(ports, b.Port)
	}
	assert.Equal(t, []int{9222, 9223, 9224}, ports)
}

func TestPoolExhausted(t *testing.T) {
	p := NewPool(9222, 9223, nil)
	commit(t, p, 0)
	commit(t, p, 0)

	_, err := p.Reserve(0)
	require.Error(t, err)
	assert.Equal(t, types.CodeResourceExhausted, types.CodeOf(err))
}

func TestPoolSkipsBoundPorts(t *testing.T) {
	p := NewPool(9222, 9230, func(port int) bool { return port != 9222 })
	assert.Equal(t, 9223, commit(t, p, 0))

	_, err := p.Reserve(9222)
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
}

func TestPoolRequestedPort(t *testing.T) {
	p := NewPool(9222, 9230, nil)
	assert.Equal(t, 9225, commit(t, p, 9225))

	_, err := p.Reserve(9225)
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))

	_, err = p.Reserve(80)
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
}

func TestPoolReservationsAreInvisible(t *testing.T) {
	p := NewPool(9222, 9230, nil)
	port, err := p.Reserve(0)
	require.NoError(t, err)

	assert.Empty(t, p.List())
	_, _, ok := p.Remove(port)
	assert.False(t, ok)

	next, err := p.Reserve(0)
	require.NoError(t, err)
	assert.Equal(t, port+1, next)

	p.Abandon(port)
	again, err := p.Reserve(0)
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

func TestPoolDrain(t *testing.T) {
	p := NewPool(9222, 9230, nil)
	commit(t, p, 0)
	commit(t, p, 0)
	_, err := p.Reserve(0)
	require.NoError(t, err)

	assert.Len(t, p.Drain(), 2)
	assert.Empty(t, p.List())
}

func TestPoolClosedAfterDrain(t *testing.T) {
	p := NewPool(9222, 9230, nil)
	port, err := p.Reserve(0)
	require.NoError(t, err)

	assert.Empty(t, p.Drain())

	err = p.Commit(BrowserInfo{Port: port, Browser: types.BrowserChromium}, &closer{})
	assert.Equal(t, types.CodeDaemonUnavailable, types.CodeOf(err))
	assert.Empty(t, p.List())

	_, err = p.Reserve(0)
	assert.Equal(t, types.CodeDaemonUnavailable, types.CodeOf(err))
}
