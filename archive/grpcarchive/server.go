// Package grpcarchive serves and consumes an archive.Store over gRPC.
package grpcarchive

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/license/archive"
	"xdao.co/license/cidutil"
)

// Server exposes an archive.Store over the Archive gRPC service.
type Server struct {
	UnimplementedArchiveServer
	Store archive.Store

	// Accept, when set, is called with every token before it is stored.
	// A non-nil error rejects the Put with PermissionDenied.
	Accept func(token []byte) error
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive store")
	}
	b := in.GetValue()
	if len(b) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty license token")
	}
	if s.Accept != nil {
		if err := s.Accept(b); err != nil {
			return nil, status.Errorf(codes.PermissionDenied, "%s: %v", archive.ErrRejected.Error(), err)
		}
	}
	expected, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return nil, status.Error(codes.Internal, "license id computation failed")
	}
	id, err := s.Store.Put(ctx, b)
	if err != nil {
		return nil, mapErr(err)
	}
	if !id.Equals(expected) {
		return nil, status.Error(codes.DataLoss, archive.ErrIDMismatch.Error())
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive store")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, archive.ErrInvalidID.Error())
	}
	b, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	if !cidutil.Matches(id, b) {
		return nil, status.Error(codes.DataLoss, archive.ErrIDMismatch.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing archive store")
	}
	id, err := cid.Decode(in.GetValue())
	if err != nil || !id.Defined() {
		return nil, status.Error(codes.InvalidArgument, archive.ErrInvalidID.Error())
	}
	ok, err := s.Store.Has(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(ok), nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, archive.ErrNotFound):
		return status.Error(codes.NotFound, archive.ErrNotFound.Error())
	case errors.Is(err, archive.ErrInvalidID):
		return status.Error(codes.InvalidArgument, archive.ErrInvalidID.Error())
	case errors.Is(err, archive.ErrIDMismatch):
		return status.Error(codes.DataLoss, archive.ErrIDMismatch.Error())
	case errors.Is(err, archive.ErrImmutable):
		return status.Error(codes.AlreadyExists, archive.ErrImmutable.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
