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
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrGenNoCodec("main.Foo", "Foo.Bar")
	err = errors.Wrap(err, "failed to generate")
	s.ErrorIs(err, ErrGenNoCodec)
	s.Equal(Code(ErrGenNoCodec), Code(err))
	s.Equal(errUnexpected.errCode, Code(io.EOF))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newNetserError("new error", ErrGenNoCodec.errCode, ClassGeneration)
	s.True(sameCodeErr.Is(ErrGenNoCodec))
}

func (s *ErrSuite) TestClass() {
	s.True(IsGenerationErr(WrapErrGenBadCustomCodec("main.Foo", "want 3 params")))
	s.True(IsGenerationErr(errors.Wrap(WrapErrGenUnsupportedKey("map[main.K]int", "main.K"), "compile")))
	s.True(IsVersionErr(WrapErrVersionTooNew("main.Root", 3, 2)))
	s.True(IsVersionErr(WrapErrVersionTooOld("main.Root", 0, 1)))
	s.True(IsIdentityErr(WrapErrIdentityDoubleVisit("*main.Node", 3)))
	s.True(IsIdentityErr(WrapErrIdentityImbalance(1)))
	s.True(IsCorruptStream(WrapErrStreamEOF(10, 4, 2)))
	s.True(IsCorruptStream(WrapErrTypeTokenNotFound(1, 9)))
	s.False(IsCorruptStream(nil))
	s.False(IsGenerationErr(io.EOF))
	s.Equal("corrupt_stream", ClassCorrupt.String())
}

func (s *ErrSuite) TestWrap() {
	s.ErrorIs(WrapErrGenNoCodec("t", "p", "extra"), ErrGenNoCodec)
	s.ErrorIs(WrapErrGenDuplicateRegister("codec", "t"), ErrGenDuplicateRegister)
	s.ErrorIs(WrapErrGenBadTarget("e", "nil fn"), ErrGenBadTarget)
	s.ErrorIs(WrapErrRegistryFrozen("Root"), ErrRegistryFrozen)
	s.ErrorIs(WrapErrRegistryNotRoot("t"), ErrRegistryNotRoot)
	s.ErrorIs(WrapErrInvalidArgument("nil"), ErrInvalidArgument)
	s.ErrorIs(WrapErrStreamCorrupt("negative length"), ErrStreamCorrupt)
	s.ErrorIs(WrapErrDefinitionMismatch(1, "type"), ErrDefinitionMismatch)
	s.ErrorIs(WrapErrUnknownTarget("e", "fn"), ErrUnknownTarget)
	s.ErrorIs(WrapErrUnregisteredType("t"), ErrUnregisteredType)
	s.ErrorIs(WrapErrMaxDepthExceeded(10, 5), ErrMaxDepthExceeded)
	s.ErrorIs(WrapErrBackReferenceNotSet(4, 2), ErrBackReferenceNotSet)
	s.NotErrorIs(WrapErrStreamCorrupt("x"), ErrStreamEOF)

	s.Contains(WrapErrVersionTooNew("main.Root", 3, 2).Error(), "type=main.Root")
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

func (s *ErrSuite) TestCombineOnlyNil() {
	s.Nil(Combine(nil, nil))
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrStreamEOF(0, 4, 0), WrapErrGenNoCodec("t", "p"))
	s.Equal(Code(ErrGenNoCodec), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
