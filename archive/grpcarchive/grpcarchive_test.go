package grpcarchive

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/license/archive"
	"xdao.co/license/archive/localfs"
	"xdao.co/license/archive/testkit"
	"xdao.co/license/cidutil"
)

// serve starts an in-memory Archive server and returns a client for it.
func serve(t *testing.T, srv *Server, opts ...grpc.ServerOption) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer(opts...)
	RegisterArchiveServer(gs, srv)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.DialContext(ctx) }
	client, err := Dial("passthrough:///bufnet", DialOptions{
		Timeout: 5 * time.Second,
		Extra:   []grpc.DialOption{grpc.WithContextDialer(dialer)},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	client.Timeout = 2 * time.Second
	return client
}

func newLocal(t *testing.T) archive.Store {
	t.Helper()
	st, err := localfs.New(afero.NewMemMapFs(), "/archive")
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	return st
}

func TestGRPCArchive_Conformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) archive.Store {
		return serve(t, &Server{Store: newLocal(t)})
	})
}

func TestGRPCArchive_LocalFS_RoundTrip(t *testing.T) {
	client := serve(t, &Server{Store: newLocal(t)})
	ctx := context.Background()

	token := []byte("hello grpcarchive")
	id, err := client.Put(ctx, token)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !cidutil.Matches(id, token) {
		t.Fatalf("unexpected license id %s", id)
	}
	ok, err := client.Has(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Has: ok=%v err=%v", ok, err)
	}
	got, err := client.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(token) {
		t.Fatalf("token mismatch")
	}
}

func TestGRPCArchive_AcceptRejects(t *testing.T) {
	client := serve(t, &Server{
		Store:  newLocal(t),
		Accept: func([]byte) error { return errors.New("not a license") },
	})
	_, err := client.Put(context.Background(), []byte("junk"))
	if !errors.Is(err, archive.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestGRPCArchive_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	client := serve(t, &Server{Store: newLocal(t)}, grpc.UnaryInterceptor(m.UnaryServerInterceptor()))
	ctx := context.Background()

	id, err := client.Put(ctx, []byte("counted"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := client.Get(ctx, id); err != nil {
		t.Fatalf("Get: %v", err)
	}
	missing, err := cidutil.CIDv1RawSHA256CID([]byte("missing"))
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}
	if _, err := client.Get(ctx, missing); !archive.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if got := testutil.ToFloat64(m.Requests.WithLabelValues(methodPut, "OK")); got != 1 {
		t.Fatalf("put count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues(methodGet, "OK")); got != 1 {
		t.Fatalf("get ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues(methodGet, "NotFound")); got != 1 {
		t.Fatalf("get not found count = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.Duration); n != 2 {
		t.Fatalf("expected 2 latency series, got %d", n)
	}
}
