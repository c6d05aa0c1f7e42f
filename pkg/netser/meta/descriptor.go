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

// Package meta 负责类型元数据：从根类型出发发现全部可达类型，
// 并为每个结构体计算固定的字段网络序。
package meta

import (
	"reflect"
	"strings"

	"golang.org/x/exp/slices"
)

// TagName 是控制字段序列化的结构体标签名，`netser:"-"` 表示跳过该字段。
const TagName = "netser"

// Field 描述一个参与序列化的实例字段。
type Field struct {
	Name   string
	Type   reflect.Type
	Offset uintptr
	// Index 是字段在所属结构体中的下标，供反射路径使用。
	Index int
}

// Descriptor 是结构体类型的序列化描述。
//
// Base 为内嵌结构体（按声明顺序），编码时最先输出；
// Bools 与 Others 按字段名的字节序排序，即网络序。
type Descriptor struct {
	Type   reflect.Type
	Base   []Field
	Bools  []Field
	Others []Field
}

// BoolBytes 返回布尔字段打包后占用的字节数。
func (d *Descriptor) BoolBytes() int {
	return (len(d.Bools) + 7) / 8
}

// FieldCount 返回参与序列化的字段总数（不含内嵌结构体内部字段）。
func (d *Descriptor) FieldCount() int {
	return len(d.Base) + len(d.Bools) + len(d.Others)
}

// Skippable 判断字段是否因类型种类而天然不可序列化。
func Skippable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uintptr, reflect.UnsafePointer, reflect.Chan, reflect.Func:
		return true
	}
	return false
}

// Describe 计算结构体 t 的描述。ignored 为 nil 时不忽略任何类型。
// 非结构体类型返回 nil。
func Describe(t reflect.Type, ignored func(reflect.Type) bool) *Descriptor {
	if t.Kind() != reflect.Struct {
		return nil
	}
	d := &Descriptor{Type: t}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Tag.Get(TagName) == "-" {
			continue
		}
		if ignored != nil && ignored(sf.Type) {
			continue
		}
		f := Field{Name: sf.Name, Type: sf.Type, Offset: sf.Offset, Index: i}
		switch {
		case sf.Anonymous && sf.Type.Kind() == reflect.Struct:
			d.Base = append(d.Base, f)
		case sf.Type.Kind() == reflect.Bool:
			d.Bools = append(d.Bools, f)
		case Skippable(sf.Type):
		default:
			d.Others = append(d.Others, f)
		}
	}
	byName := func(a, b Field) int { return strings.Compare(a.Name, b.Name) }
	slices.SortFunc(d.Bools, byName)
	slices.SortFunc(d.Others, byName)
	return d
}
