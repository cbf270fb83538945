package repository

import (
	"errors"

	"github.com/timmy/motionmatch/internal/errs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// storeErr classifies a relational store failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrap(errs.KindVideoNotFound, op, err)
	}
	if kind := errs.KindOf(err); kind == errs.KindCancelled || kind == errs.KindTimeout {
		return errs.Wrap(kind, op, err)
	}
	return errs.Wrap(errs.KindInfrastructureUnavailable, op, err)
}

// indexErr classifies a Qdrant gRPC failure. Transport-level problems are
// retryable infrastructure failures; request errors are not.
func indexErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Canceled:
		return errs.Wrap(errs.KindCancelled, op, err)
	case codes.DeadlineExceeded:
		return errs.Wrap(errs.KindTimeout, op, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.AlreadyExists:
		return errs.Wrap(errs.KindInternal, op, err)
	}
	return errs.Wrap(errs.KindInfrastructureUnavailable, op, err)
}
