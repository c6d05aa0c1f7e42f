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

type ErrorClass int32

const (
	// ClassGeneration 生成期错误：直接终止生成，不保留任何部分生成的表。
	ClassGeneration ErrorClass = 1
	// ClassVersion 版本错误：单次调用致命。
	ClassVersion ErrorClass = 2
	// ClassIdentity 引用身份协议被破坏（重复首访、visit/leave 不平衡）。
	ClassIdentity ErrorClass = 3
	// ClassCorrupt 数据流损坏：调用方丢弃当前流与上下文即可恢复。
	ClassCorrupt ErrorClass = 4
	// ClassUsage 调用方使用方式错误。
	ClassUsage ErrorClass = 5
)

var ErrorClassName = map[ErrorClass]string{
	ClassGeneration: "generation_error",
	ClassVersion:    "version_error",
	ClassIdentity:   "identity_error",
	ClassCorrupt:    "corrupt_stream",
	ClassUsage:      "usage_error",
}

func (c ErrorClass) String() string {
	return ErrorClassName[c]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Generation related
	ErrGenNoCodec           = newNetserError("no codec available for type", 100, ClassGeneration)
	ErrGenBadCustomCodec    = newNetserError("custom codec shape mismatch", 101, ClassGeneration)
	ErrGenUnsupportedKey    = newNetserError("unsupported map key type", 102, ClassGeneration)
	ErrGenDuplicateRegister = newNetserError("duplicate registration", 103, ClassGeneration)
	ErrGenBadTarget         = newNetserError("invalid event target", 104, ClassGeneration)

	// Registry related
	ErrRegistryFrozen     = newNetserError("registry already generated", 200, ClassUsage)
	ErrRegistryNotRoot    = newNetserError("type is not a registered root", 201, ClassUsage)
	ErrInvalidArgument    = newNetserError("invalid argument", 202, ClassUsage)
	ErrDefinitionNotBuilt = newNetserError("definition table not built", 203, ClassUsage)
	ErrTaskPanicked       = newNetserError("background task panicked", 204, ClassUsage)

	// Version related
	ErrVersionTooNew = newNetserError("stream version newer than supported", 300, ClassVersion)
	ErrVersionTooOld = newNetserError("stream version older than minimum", 301, ClassVersion)

	// Identity protocol related
	ErrIdentityDoubleVisit = newNetserError("reference visited twice", 400, ClassIdentity)
	ErrIdentityImbalance   = newNetserError("visit/leave imbalance", 401, ClassIdentity)

	// Stream related
	ErrStreamCorrupt       = newNetserError("corrupt stream", 500, ClassCorrupt)
	ErrStreamEOF           = newNetserError("unexpected end of stream", 501, ClassCorrupt)
	ErrTypeTokenNotFound   = newNetserError("type token not found", 502, ClassCorrupt)
	ErrDefinitionMismatch  = newNetserError("definition table mismatch", 503, ClassCorrupt)
	ErrUnknownTarget       = newNetserError("unknown event target", 504, ClassCorrupt)
	ErrUnregisteredType    = newNetserError("type not registered for dispatch", 505, ClassCorrupt)
	ErrMaxDepthExceeded    = newNetserError("max depth exceeded", 506, ClassCorrupt)
	ErrBackReferenceNotSet = newNetserError("back reference out of range", 507, ClassCorrupt)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to netserError
	errUnexpected = newNetserError("unexpected error", (1<<16)-1, ClassUsage)
)

type errorOption func(*netserError)

func WithDetail(detail string) errorOption {
	return func(err *netserError) {
		err.detail = detail
	}
}

type netserError struct {
	msg     string
	detail  string
	errCode int32
	class   ErrorClass
}

func newNetserError(msg string, code int32, class ErrorClass, options ...errorOption) netserError {
	err := netserError{
		msg:     msg,
		detail:  msg,
		errCode: code,
		class:   class,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e netserError) code() int32 {
	return e.errCode
}

func (e netserError) Error() string {
	return e.msg
}

func (e netserError) Detail() string {
	return e.detail
}

func (e netserError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(netserError); ok {
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
