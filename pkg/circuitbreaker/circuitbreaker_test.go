package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

var (
	errNetwork  = errors.New("connection reset")
	errNotFound = errors.New("not found")
)

func testSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Hour,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestBreaker_OpensOnFailures(t *testing.T) {
	b := NewWithSettings("test", testSettings())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Execute(ctx, func(context.Context) error { return errNetwork }, nil)
		assert.ErrorIs(t, err, errNetwork)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	}, nil)

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_IgnoresBusinessErrors(t *testing.T) {
	b := NewWithSettings("test", testSettings())
	ctx := context.Background()
	isFailure := func(err error) bool { return !errors.Is(err, errNotFound) }

	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, func(context.Context) error { return errNotFound }, isFailure)
		assert.ErrorIs(t, err, errNotFound)
	}

	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, "test", b.Name())
}

func TestBreaker_PassesContext(t *testing.T) {
	type key struct{}
	b := New("ctx")
	ctx := context.WithValue(context.Background(), key{}, "v")

	var got any
	_ = b.Execute(ctx, func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	}, nil)

	assert.Equal(t, "v", got)
}
