package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/order-saga/internal/core/domain"
)

type errorMapping struct {
	target  error
	status  int
	code    codes.Code
	message string
}

// mapped in order; the first match wins
var errorMappings = []errorMapping{
	{domain.ErrInvalidInput, http.StatusBadRequest, codes.InvalidArgument, "invalid request"},
	{domain.ErrProductNotFound, http.StatusNotFound, codes.NotFound, "product not found"},
	{domain.ErrOrderNotFound, http.StatusNotFound, codes.NotFound, "order not found"},
	{domain.ErrInsufficientStock, http.StatusConflict, codes.FailedPrecondition, "insufficient stock"},
	{domain.ErrLockTimeout, http.StatusLocked, codes.Aborted, "resource busy, try again"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, codes.Unauthenticated, "unauthorized"},
}

func lookupError(err error) errorMapping {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m
		}
	}
	return errorMapping{status: http.StatusInternalServerError, code: codes.Internal, message: "internal error"}
}
