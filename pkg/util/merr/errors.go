// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Service related
	ErrServiceNotReady        = newPairchatError("service not ready", 1, true) // This indicates the service is still in init
	ErrServiceUnavailable     = newPairchatError("service unavailable", 2, true)
	ErrServiceTooManyRequests = newPairchatError("too many concurrent requests, queue is full", 4, true)
	ErrServiceInternal        = newPairchatError("service internal error", 5, false) // Never return this error out of the process

	// Pair & session related
	ErrPairKeyInvalid         = newPairchatError("invalid pair key", 100, false)
	ErrPairNotMatched         = newPairchatError("pair not matched", 101, false)
	ErrMatchLookupFailed      = newPairchatError("match lookup failed", 102, true)
	ErrSessionNotFound        = newPairchatError("session not found", 103, false)
	ErrHandleAlreadyConnected = newPairchatError("handle already connected", 104, false)
	ErrHandleNotConnected     = newPairchatError("handle not connected", 105, false)

	// Transport related
	ErrTransportClosed = newPairchatError("transport closed", 200, false)
	ErrTransportSend   = newPairchatError("transport send failed", 201, false)

	// Message related
	ErrMessagePersist     = newPairchatError("message persist failed", 300, true)
	ErrMessageRejected    = newPairchatError("message rejected by moderation", 301, false)
	ErrMessageTooLarge    = newPairchatError("message too large", 302, false)
	ErrHistoryUnavailable = newPairchatError("message history unavailable", 303, true)

	// Identity related
	ErrIdentityInvalid  = newPairchatError("identity credential invalid", 400, false)
	ErrIdentityMismatch = newPairchatError("identity does not belong to the pair", 401, false)

	// Node related
	ErrNodeNotFound     = newPairchatError("node not found", 901, false)
	ErrNodeOffline      = newPairchatError("node offline", 902, false)
	ErrNodeNotMatch     = newPairchatError("node not match", 904, false)
	ErrOldSessionExists = newPairchatError("old node session exists", 905, false)

	// IO related
	ErrIoKeyNotFound = newPairchatError("key not found", 1000, false)
	ErrIoFailed      = newPairchatError("IO failed", 1001, false)

	// Parameter related
	ErrParameterInvalid  = newPairchatError("invalid parameter", 1100, false)
	ErrParameterMissing  = newPairchatError("missing parameter", 1101, false)
	ErrParameterTooLarge = newPairchatError("parameter too large", 1102, false)

	// Metrics related
	ErrMetricNotFound = newPairchatError("metric not found", 1200, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to pairchatError
	errUnexpected = newPairchatError("unexpected error", (1<<16)-1, false)

	// General
	ErrOperationNotSupported = newPairchatError("unsupported operation", 3000, false)
)

type errorOption func(*pairchatError)

func WithDetail(detail string) errorOption {
	return func(err *pairchatError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *pairchatError) {
		err.errType = etype
	}
}

type pairchatError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newPairchatError(msg string, code int32, retriable bool, options ...errorOption) pairchatError {
	err := pairchatError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e pairchatError) code() int32 {
	return e.errCode
}

func (e pairchatError) Error() string {
	return e.msg
}

func (e pairchatError) Detail() string {
	return e.detail
}

func (e pairchatError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(pairchatError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
