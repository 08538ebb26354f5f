package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/types"
)

type namedOp struct{ name string }

func (o namedOp) Name() string        { return o.name }
func (o namedOp) Description() string { return "test operation" }
func (o namedOp) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	return &Result{}, nil
}

func TestRegistryExactLookup(t *testing.T) {
	r, err := NewRegistry(namedOp{"nav"}, namedOp{"page.text"}, NewPingOperation())
	require.NoError(t, err)

	_, ok := r.Lookup("nav")
	assert.True(t, ok)
	_, ok = r.Lookup("page.text")
	assert.True(t, ok)

	for _, name := range []string{"navigate", "NAV", "page", "page.tex", ""} {
		_, ok := r.Lookup(name)
		assert.False(t, ok, name)
	}

	assert.Equal(t, []string{"nav", "page.text", "ping"}, r.Names())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(namedOp{"nav"}, namedOp{"nav"})
	assert.Error(t, err)

	_, err = NewRegistry(namedOp{""})
	assert.Error(t, err)

	assert.Panics(t, func() { MustRegistry(namedOp{"a"}, namedOp{"a"}) })
}

func TestInvocationDecode(t *testing.T) {
	type input struct {
		URL string `json:"url"`
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "absent", raw: "", want: ""},
		{name: "null", raw: "null", want: ""},
		{name: "value", raw: `{"url":"https://example.com"}`, want: "https://example.com"},
		{name: "unknown field", raw: `{"href":"x"}`, wantErr: true},
		{name: "malformed", raw: `{"url":`, wantErr: true},
		{name: "wrong type", raw: `{"url":3}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &Invocation{Input: json.RawMessage(tt.raw)}
			var in input
			err := inv.Decode(&in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.URL)
		})
	}
}

func TestPingHasNoDelta(t *testing.T) {
	res, err := NewPingOperation().Execute(context.Background(), &Invocation{})
	require.NoError(t, err)
	assert.True(t, res.Delta.IsEmpty())
	assert.NotNil(t, res.Data)
}
