package grpcarchive

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/license/archive"
)

// mapRPC turns a gRPC status back into the archive sentinel the server
// started from.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return archive.ErrNotFound
	case codes.InvalidArgument:
		if st.Message() == archive.ErrInvalidID.Error() {
			return archive.ErrInvalidID
		}
		return err
	case codes.DataLoss:
		return archive.ErrIDMismatch
	case codes.AlreadyExists:
		return archive.ErrImmutable
	case codes.PermissionDenied:
		return fmt.Errorf("%w (%s)", archive.ErrRejected, st.Message())
	default:
		return err
	}
}
