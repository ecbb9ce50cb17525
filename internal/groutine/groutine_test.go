package groutine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContext(t *testing.T) {
	names := make(chan string, 1)

	Go(nil, "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Unnamed(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck
}

func TestGoSafe_RecoversPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	errs := make(chan error, 1)
	GoSafe(context.Background(), "boom", logger, func(ctx context.Context) {
		panic("kaboom")
	}, func(err error) {
		errs <- err
	})

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.Contains(t, err.Error(), "kaboom")
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}
