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
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type stringerKey string

func (k stringerKey) String() string { return string(k) }

const testPair = stringerKey("1:2")

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrPairNotMatched(1, 2)
	errors.Wrap(err, "failed to authorize pair")
	s.ErrorIs(err, ErrPairNotMatched)
	s.Equal(Code(ErrPairNotMatched), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))

	sameCodeErr := newPairchatError("new error", ErrPairNotMatched.errCode, false)
	s.True(sameCodeErr.Is(ErrPairNotMatched))
}

func (s *ErrSuite) TestStatus() {
	err := WrapErrPairNotMatched(1, 2)
	status := StatusOf(err)
	restoredErr := Error(status)

	s.ErrorIs(err, restoredErr)
	s.Equal(int32(0), StatusOf(nil).Code)
	s.Nil(Error(Status{}))
}

func (s *ErrSuite) TestRetriable() {
	s.False(IsRetryableErr(ErrPairNotMatched))
	s.False(IsRetryableErr(ErrHandleAlreadyConnected))
	s.True(IsRetryableErr(ErrMessagePersist))
	s.True(IsRetryableErr(ErrMatchLookupFailed))
	s.True(IsRetryableErr(ErrServiceNotReady))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("chatnode", 0, "test init..."), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceUnavailable("test", "test init"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)
	s.ErrorIs(WrapErrTooManyRequests(100, "too many requests"), ErrServiceTooManyRequests)

	// Pair 与会话相关错误。
	s.ErrorIs(WrapErrPairKeyInvalid(3, 3, "self pair"), ErrPairKeyInvalid)
	s.ErrorIs(WrapErrPairNotMatched(3, 4, "not matched"), ErrPairNotMatched)
	s.ErrorIs(WrapErrMatchLookupFailed(errors.New("store down")), ErrMatchLookupFailed)
	s.ErrorIs(WrapErrSessionNotFound(testPair, "failed to route"), ErrSessionNotFound)
	s.ErrorIs(WrapErrHandleAlreadyConnected(testPair, 1, "reject policy"), ErrHandleAlreadyConnected)
	s.ErrorIs(WrapErrHandleNotConnected(testPair, 2), ErrHandleNotConnected)

	// Transport 相关错误。
	s.ErrorIs(WrapErrTransportClosed(testPair, 1), ErrTransportClosed)
	s.ErrorIs(WrapErrTransportSend(os.ErrClosed, testPair, 1), ErrTransportSend)

	// Message 相关错误。
	s.ErrorIs(WrapErrMessagePersist(os.ErrClosed, testPair, 7), ErrMessagePersist)
	s.ErrorIs(WrapErrMessageRejected(testPair, 1, "toxicity over threshold"), ErrMessageRejected)
	s.ErrorIs(WrapErrMessageTooLarge(4096, 1024), ErrMessageTooLarge)
	s.ErrorIs(WrapErrHistoryUnavailable(os.ErrClosed, testPair), ErrHistoryUnavailable)

	// Identity 相关错误。
	s.ErrorIs(WrapErrIdentityInvalid(errors.New("token expired")), ErrIdentityInvalid)
	s.ErrorIs(WrapErrIdentityMismatch(9, testPair), ErrIdentityMismatch)

	// Node 相关错误。
	s.ErrorIs(WrapErrNodeNotFound(1, "failed to get node"), ErrNodeNotFound)
	s.ErrorIs(WrapErrNodeOffline(1, "failed to access node"), ErrNodeOffline)

	// IO 相关错误。
	s.ErrorIs(WrapErrIoKeyNotFound("test_key", "failed to read"), ErrIoKeyNotFound)
	s.ErrorIs(WrapErrIoFailed("test_key", os.ErrClosed), ErrIoFailed)

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid(8, 1, "failed to create"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("limit should be in range [%d, %d]", 1, 100), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("token", "no credential"), ErrParameterMissing)
}

func (s *ErrSuite) TestWrapDetail() {
	err := WrapErrPairNotMatched(3, 4)
	s.Contains(err.Error(), "userA=3")
	s.Contains(err.Error(), "userB=4")

	err = WrapErrSessionNotFound(testPair)
	s.Contains(err.Error(), fmt.Sprintf("pair=%s", testPair))
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionNotFound(testPair), WrapErrPairNotMatched(1, 2))
	s.Equal(Code(ErrPairNotMatched), Code(err))
}

func (s *ErrSuite) TestWrapForeignCauseKeepsDomainCode() {
	// 包装外部 cause 后，Code 仍须解析到领域错误码，
	// HTTP 层才能据此映射出正确的状态码。
	cause := errors.New("signature is invalid")

	s.Equal(Code(ErrIdentityInvalid), Code(WrapErrIdentityInvalid(cause)))
	s.Equal(Code(ErrMatchLookupFailed), Code(WrapErrMatchLookupFailed(cause)))
	s.Equal(Code(ErrTransportSend), Code(WrapErrTransportSend(cause, testPair, 1)))
	s.Equal(Code(ErrMessagePersist), Code(WrapErrMessagePersist(cause, testPair, 7)))
	s.Equal(Code(ErrHistoryUnavailable), Code(WrapErrHistoryUnavailable(cause, testPair)))

	// 附加消息的 Wrap 不改变错误码。
	s.Equal(Code(ErrIdentityInvalid), Code(WrapErrIdentityInvalid(cause, "resolve token")))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
