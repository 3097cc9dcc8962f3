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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/pkg/log"
)

const InputErrorFlagKey string = "is_input_error"

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case pairchatError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := err.(pairchatError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// Status 为对外返回的统一错误状态，随错误帧或 HTTP 响应序列化。
type Status struct {
	Code int32  `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

// StatusOf 根据给定错误构造 Status。
// 当 err 为空时，返回一个表示成功的 Status。
func StatusOf(err error) Status {
	if err == nil {
		return Status{}
	}

	return Status{
		Code: Code(err),
		Msg:  previousLastError(err).Error(),
	}
}

func previousLastError(err error) error {
	lastErr := err
	for {
		nextErr := errors.Unwrap(err)
		if nextErr == nil {
			break
		}
		lastErr = err
		err = nextErr
	}
	return lastErr
}

func Ok(status Status) bool {
	return status.Code == 0
}

// Error returns a error according to the given status,
// returns nil if the status is a success status
func Error(status Status) error {
	if Ok(status) {
		return nil
	}

	return newPairchatError(status.Msg, status.Code, false)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(pairchatError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

func WrapErrAsInputErrorWhen(err error, targets ...pairchatError) error {
	if merr, ok := err.(pairchatError); ok {
		for _, target := range targets {
			if target.errCode == merr.errCode {
				log.Info("mark error as input error", zap.Error(err))
				WithErrorType(InputError)(&merr)
				return merr
			}
		}
	}
	return err
}

func GetErrorType(err error) ErrorType {
	if merr, ok := err.(pairchatError); ok {
		return merr.errType
	}

	return SystemError
}

// Service 相关错误封装。
func WrapErrServiceNotReady(role string, nodeID int64, state string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceNotReady,
		state,
		value(role, nodeID),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceUnavailable, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTooManyRequests(limit int32, msg ...string) error {
	err := wrapFields(ErrServiceTooManyRequests, value("limit", limit))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Pair 与会话相关错误封装。
func WrapErrPairKeyInvalid(a, b int64, msg ...string) error {
	err := wrapFields(ErrPairKeyInvalid, value("userA", a), value("userB", b))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrPairNotMatched(a, b int64, msg ...string) error {
	err := wrapFields(ErrPairNotMatched, value("userA", a), value("userB", b))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMatchLookupFailed(cause error, msg ...string) error {
	err := Combine(cause, ErrMatchLookupFailed)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionNotFound(key fmt.Stringer, msg ...string) error {
	err := wrapFields(ErrSessionNotFound, value("pair", key.String()))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrHandleAlreadyConnected(key fmt.Stringer, user int64, msg ...string) error {
	err := wrapFields(ErrHandleAlreadyConnected, value("pair", key.String()), value("user", user))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrHandleNotConnected(key fmt.Stringer, user int64, msg ...string) error {
	err := wrapFields(ErrHandleNotConnected, value("pair", key.String()), value("user", user))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Transport 相关错误封装。
func WrapErrTransportClosed(key fmt.Stringer, user int64, msg ...string) error {
	err := wrapFields(ErrTransportClosed, value("pair", key.String()), value("user", user))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTransportSend(cause error, key fmt.Stringer, user int64, msg ...string) error {
	err := Combine(cause, wrapFields(ErrTransportSend, value("pair", key.String()), value("user", user)))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Message 相关错误封装。
func WrapErrMessagePersist(cause error, key fmt.Stringer, seq uint64, msg ...string) error {
	err := Combine(cause, wrapFields(ErrMessagePersist, value("pair", key.String()), value("seq", seq)))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMessageRejected(key fmt.Stringer, user int64, msg ...string) error {
	err := wrapFields(ErrMessageRejected, value("pair", key.String()), value("sender", user))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMessageTooLarge(size, limit int, msg ...string) error {
	err := wrapFields(ErrMessageTooLarge, value("size", size), value("limit", limit))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrHistoryUnavailable(cause error, key fmt.Stringer, msg ...string) error {
	err := Combine(cause, wrapFields(ErrHistoryUnavailable, value("pair", key.String())))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Identity 相关错误封装。
func WrapErrIdentityInvalid(cause error, msg ...string) error {
	err := Combine(cause, ErrIdentityInvalid)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrIdentityMismatch(caller int64, key fmt.Stringer, msg ...string) error {
	err := wrapFields(ErrIdentityMismatch, value("caller", caller), value("pair", key.String()))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Node 相关错误封装。
func WrapErrNodeNotFound(id int64, msg ...string) error {
	err := wrapFields(ErrNodeNotFound, value("node", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrNodeOffline(id int64, msg ...string) error {
	err := wrapFields(ErrNodeOffline, value("node", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// IO 相关错误封装。
func WrapErrIoKeyNotFound(key string, msg ...string) error {
	err := wrapFields(ErrIoKeyNotFound, value("key", key))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

// Parameter 相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid, value("expected", expected), value("actual", actual))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmtStr string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmtStr, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing, value("missing_param", param))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err pairchatError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err pairchatError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
