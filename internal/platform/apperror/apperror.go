// Package apperror defines the shared error taxonomy for the hospital
// management core. Every rejected state transition is reported with the
// entity kind, entity id, and enough detail to reconstruct the conflict.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a category of domain failure.
type Code string

const (
	CodeInvalidCapacity        Code = "invalid_capacity"
	CodeCapacityExceeded       Code = "capacity_exceeded"
	CodeBedNotFree             Code = "bed_not_free"
	CodeBedNotOccupied         Code = "bed_not_occupied"
	CodeBedOccupied            Code = "bed_occupied"
	CodePatientAlreadyAdmitted Code = "patient_already_admitted"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeCannotCancelAdmitted   Code = "cannot_cancel_admitted"
	CodeBillAlreadyExists      Code = "bill_already_exists"
	CodeBillLocked             Code = "bill_locked"
	CodeOverPayment            Code = "over_payment"
	CodeAlreadyClaimed         Code = "already_claimed"
	CodeNotFound               Code = "not_found"
)

// Error is a domain error tied to a specific entity.
type Error struct {
	Code   Code   `json:"code"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Entity != "" {
		msg += ": " + e.Entity
		if e.ID != "" {
			msg += " " + e.ID
		}
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports whether target is an *Error with the same code, so callers
// can match with errors.Is(err, apperror.New(code, "", "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates an Error for the given entity.
func New(code Code, entity, id string) *Error {
	return &Error{Code: code, Entity: entity, ID: id}
}

// Newf creates an Error with formatted detail text.
func Newf(code Code, entity, id, format string, args ...interface{}) *Error {
	return &Error{Code: code, Entity: entity, ID: id, Detail: fmt.Sprintf(format, args...)}
}

// NotFound creates a NotFound error for the given entity.
func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Entity: entity, ID: id}
}

// CodeOf extracts the Code from err, or "" if err is not an apperror.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a domain error to an HTTP status. Contention and
// state-conflict codes are 409 so callers can tell an expected race
// from a malformed request.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidCapacity, CodeOverPayment:
		return http.StatusUnprocessableEntity
	case CodeCapacityExceeded, CodeBedNotFree, CodeBedNotOccupied, CodeBedOccupied,
		CodePatientAlreadyAdmitted, CodeInvalidTransition, CodeCannotCancelAdmitted,
		CodeBillAlreadyExists, CodeBillLocked, CodeAlreadyClaimed:
		return http.StatusConflict
	case "":
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
