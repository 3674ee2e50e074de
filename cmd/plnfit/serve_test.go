package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServeShutsDownOnCancel(t *testing.T) {
	a := &app{stdout: io.Discard, stderr: io.Discard, log: zerolog.Nop()}
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.serve(ctx, serveFlags{addr: addr, shutdownAfter: time.Second})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeListenError(t *testing.T) {
	a := &app{stdout: io.Discard, stderr: io.Discard, log: zerolog.Nop()}
	err := a.serve(context.Background(), serveFlags{addr: "127.0.0.1:-1", shutdownAfter: time.Second})
	assert.Error(t, err)
}

func TestServeAddrFromEnv(t *testing.T) {
	a := &app{log: zerolog.Nop()}
	t.Setenv("PLNFIT_ADDR", "")
	assert.Equal(t, ":8080", newServeCmd(a).Flags().Lookup("addr").DefValue)

	t.Setenv("PLNFIT_ADDR", "127.0.0.1:9999")
	assert.Equal(t, "127.0.0.1:9999", newServeCmd(a).Flags().Lookup("addr").DefValue)
}
