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

// Package netser 是面向网络同步与确定性回放的对象图序列化引擎。
//
// 使用方式：
//
//	reg := netser.NewRegistry()
//	reg.Root((*World)(nil), netser.WithVersion(3, 2))
//	reg.Polymorphic(&Monster{}, &Npc{})
//	if err := reg.Generate(); err != nil { ... }
//
//	ctx := reg.NewSerializeContext(defs)
//	err := ctx.Serialize(w, world)
//
// Registry 在生成阶段为每个可达类型编译一对编码/解码过程，之后只读。
// 每次序列化/反序列化使用独立的 Context，引用类型通过身份协议保持共享与循环关系，
// 定义表中的对象只写下标。
package netser
