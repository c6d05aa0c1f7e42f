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
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码，nil 返回 0。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	if specificErr, ok := cause.(netserError); ok {
		return specificErr.code()
	}
	var target netserError
	if errors.As(err, &target) {
		return target.code()
	}
	return errUnexpected.code()
}

// Class 返回错误所属的分类；未知错误归为 ClassUsage。
func Class(err error) ErrorClass {
	if err == nil {
		return 0
	}
	var target netserError
	if errors.As(errors.Cause(err), &target) {
		return target.class
	}
	if errors.As(err, &target) {
		return target.class
	}
	return errUnexpected.class
}

func IsGenerationErr(err error) bool {
	return err != nil && Class(err) == ClassGeneration
}

func IsVersionErr(err error) bool {
	return err != nil && Class(err) == ClassVersion
}

func IsIdentityErr(err error) bool {
	return err != nil && Class(err) == ClassIdentity
}

// IsCorruptStream 判断是否为数据流损坏类错误。
// 这类错误只影响当前调用，调用方丢弃上下文与数据流后可继续使用注册表。
func IsCorruptStream(err error) bool {
	return err != nil && Class(err) == ClassCorrupt
}

// Generation 相关错误封装。
func WrapErrGenNoCodec(typeName string, path string, msg ...string) error {
	err := wrapFields(ErrGenNoCodec, value("type", typeName), value("path", path))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrGenBadCustomCodec(typeName string, reason string) error {
	return wrapFieldsWithDesc(ErrGenBadCustomCodec, reason, value("type", typeName))
}

func WrapErrGenUnsupportedKey(mapType string, keyType string) error {
	return wrapFields(ErrGenUnsupportedKey, value("map", mapType), value("key", keyType))
}

func WrapErrGenDuplicateRegister(kind string, name string) error {
	return wrapFields(ErrGenDuplicateRegister, value(kind, name))
}

func WrapErrGenBadTarget(eventType string, reason string) error {
	return wrapFieldsWithDesc(ErrGenBadTarget, reason, value("event", eventType))
}

func WrapErrRegistryFrozen(operation string) error {
	return wrapFields(ErrRegistryFrozen, value("operation", operation))
}

func WrapErrRegistryNotRoot(typeName string) error {
	return wrapFields(ErrRegistryNotRoot, value("type", typeName))
}

func WrapErrInvalidArgument(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrInvalidArgument, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Version 相关错误封装。
func WrapErrVersionTooNew(typeName string, got, max int32) error {
	return wrapFields(ErrVersionTooNew, value("type", typeName), bound("version", got, "-", max))
}

func WrapErrVersionTooOld(typeName string, got, min int32) error {
	return wrapFields(ErrVersionTooOld, value("type", typeName), bound("version", got, min, "-"))
}

// Identity 相关错误封装。
func WrapErrIdentityDoubleVisit(typeName string, index uint32) error {
	return wrapFields(ErrIdentityDoubleVisit, value("type", typeName), value("index", index))
}

func WrapErrIdentityImbalance(depth int) error {
	return wrapFields(ErrIdentityImbalance, value("depth", depth))
}

// Stream 相关错误封装。
func WrapErrStreamCorrupt(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrStreamCorrupt, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrStreamEOF(offset int, need int, have int) error {
	return wrapFields(ErrStreamEOF, value("offset", offset), value("need", need), value("have", have))
}

func WrapErrTypeTokenNotFound(module int32, token int32) error {
	return wrapFields(ErrTypeTokenNotFound, value("module", module), value("token", token))
}

func WrapErrDefinitionMismatch(index uint32, reason string) error {
	return wrapFieldsWithDesc(ErrDefinitionMismatch, reason, value("index", index))
}

func WrapErrUnknownTarget(eventType string, target any) error {
	return wrapFields(ErrUnknownTarget, value("event", eventType), value("target", target))
}

func WrapErrUnregisteredType(typeName string) error {
	return wrapFields(ErrUnregisteredType, value("type", typeName))
}

func WrapErrMaxDepthExceeded(depth int, limit int) error {
	return wrapFields(ErrMaxDepthExceeded, bound("depth", depth, 0, limit))
}

func WrapErrBackReferenceNotSet(index uint32, visited int) error {
	return wrapFields(ErrBackReferenceNotSet, bound("index", index, 0, visited-1))
}

func WrapErrTaskPanicked(v any) error {
	return wrapFieldsWithDesc(ErrTaskPanicked, fmt.Sprint(v))
}

func wrapFields(err netserError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err netserError, desc string, fields ...errorField) error {
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

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
