package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingGetter struct {
	vals     map[string]string
	failNext bool
	calls    int
}

func (g *countingGetter) GetParameter(_ context.Context, name string) (string, error) {
	g.calls++
	if g.failNext {
		g.failNext = false
		return "", errors.New("temporary ssm failure")
	}
	v, ok := g.vals[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestNewCache_NilSource(t *testing.T) {
	_, err := NewCache(nil)
	require.Error(t, err)
}

func TestCache_MemoizesSuccess(t *testing.T) {
	src := &countingGetter{vals: map[string]string{"/p/config/openai_model": "gpt-4o-mini"}}
	c, err := NewCache(src)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := c.GetParameter(context.Background(), "/p/config/openai_model")
		require.NoError(t, err)
		require.Equal(t, "gpt-4o-mini", v)
	}
	require.Equal(t, 1, src.calls, "SSM must only be called once per parameter")
}

func TestCache_RetriesAfterFailure(t *testing.T) {
	src := &countingGetter{vals: map[string]string{"/p/token": "x"}, failNext: true}
	c, err := NewCache(src)
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/p/token")
	require.ErrorContains(t, err, "temporary")

	v, err := c.GetParameter(context.Background(), "/p/token")
	require.NoError(t, err)
	require.Equal(t, "x", v)
	require.Equal(t, 2, src.calls)
}

func TestStatic(t *testing.T) {
	s := Static{"/local/open-ai-token": `{"token":"sk-local"}`}
	v, err := s.GetParameter(context.Background(), "/local/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, `{"token":"sk-local"}`, v)

	_, err = s.GetParameter(context.Background(), "/local/missing")
	require.ErrorContains(t, err, "not found")
}
