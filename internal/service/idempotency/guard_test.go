package idempotency

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func checkoutRequest(key, body string) Request {
	return Request{Scope: "checkout", ActorID: 7, Key: key, Body: []byte(body)}
}

func TestGuard_ReplaysSuccessfulResponse(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()
	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"id":1}`)}
	}

	first, replayed, err := guard.Do(ctx, checkoutRequest("k1", `{"items":[]}`), handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, first.Status)

	second, replayed, err := guard.Do(ctx, checkoutRequest("k1", `{"items":[]}`), handler)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestGuard_DifferentBodyIsRejected(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()
	ok := func(context.Context) Response { return Response{Status: http.StatusCreated} }

	_, _, err := guard.Do(ctx, checkoutRequest("k1", `{"a":1}`), ok)
	require.NoError(t, err)

	_, _, err = guard.Do(ctx, checkoutRequest("k1", `{"a":2}`), ok)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_KeysAreScopedPerUser(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()
	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated}
	}

	_, _, err := guard.Do(ctx, Request{Scope: "checkout", ActorID: 1, Key: "same", Body: []byte("x")}, handler)
	require.NoError(t, err)
	_, replayed, err := guard.Do(ctx, Request{Scope: "checkout", ActorID: 2, Key: "same", Body: []byte("y")}, handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, 2, calls)
}

func TestGuard_RetryableFailuresReleaseKey(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()
	statuses := []int{http.StatusConflict, http.StatusCreated}
	calls := 0
	handler := func(context.Context) Response {
		status := statuses[calls]
		calls++
		return Response{Status: status}
	}

	first, _, err := guard.Do(ctx, checkoutRequest("k1", "body"), handler)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, first.Status)

	second, replayed, err := guard.Do(ctx, checkoutRequest("k1", "body"), handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, second.Status)
}

func TestGuard_ClientErrorsAreReplayed(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()
	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusBadRequest, Body: []byte(`{"message":"bad"}`)}
	}

	_, _, err := guard.Do(ctx, checkoutRequest("k1", "body"), handler)
	require.NoError(t, err)
	resp, replayed, err := guard.Do(ctx, checkoutRequest("k1", "body"), handler)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Equal(t, 1, calls)
}

func TestGuard_InFlightDuplicate(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, _ = guard.Do(ctx, checkoutRequest("k1", "body"), func(context.Context) Response {
			close(started)
			<-release
			return Response{Status: http.StatusCreated}
		})
	}()
	<-started

	_, _, err := guard.Do(ctx, checkoutRequest("k1", "body"), func(context.Context) Response {
		t.Error("duplicate must not run")
		return Response{}
	})
	close(release)
	wg.Wait()
	require.ErrorIs(t, err, ErrInFlight)
}

func TestGuard_EmptyKeyAndLongKey(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(0), 0, nil)
	ctx := context.Background()
	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated}
	}

	for i := 0; i < 2; i++ {
		_, replayed, err := guard.Do(ctx, checkoutRequest("", "body"), handler)
		require.NoError(t, err)
		require.False(t, replayed)
	}
	require.Equal(t, 2, calls)

	_, _, err := guard.Do(ctx, checkoutRequest(strings.Repeat("k", MaxKeyLength+1), "body"), handler)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
