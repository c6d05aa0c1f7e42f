package netser

import (
	"fmt"
	"reflect"
	"unsafe"
)

// grid 由多维数组实现，元素按行主序存储（最后一维变化最快）。
type grid interface {
	elemType() reflect.Type
	dims() []int
	reshape(dims []int)
	each(fn func(p unsafe.Pointer) error) error
}

// Array2 是矩形二维数组。
type Array2[T any] struct {
	d0, d1 int
	data   []T
}

func NewArray2[T any](d0, d1 int) *Array2[T] {
	if d0 < 0 || d1 < 0 {
		panic(fmt.Sprintf("netser: negative Array2 dims %dx%d", d0, d1))
	}
	return &Array2[T]{d0: d0, d1: d1, data: make([]T, d0*d1)}
}

// Dims 返回各维长度。
func (a *Array2[T]) Dims() (int, int) {
	return a.d0, a.d1
}

func (a *Array2[T]) At(i, j int) T {
	return a.data[a.offset(i, j)]
}

func (a *Array2[T]) Set(i, j int, v T) {
	a.data[a.offset(i, j)] = v
}

// Data 返回按行主序排列的底层元素，与数组共享存储。
func (a *Array2[T]) Data() []T {
	return a.data
}

func (a *Array2[T]) offset(i, j int) int {
	if i < 0 || i >= a.d0 || j < 0 || j >= a.d1 {
		panic(fmt.Sprintf("netser: Array2 index [%d,%d] out of range [%d,%d]", i, j, a.d0, a.d1))
	}
	return i*a.d1 + j
}

func (a *Array2[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (a *Array2[T]) dims() []int            { return []int{a.d0, a.d1} }

func (a *Array2[T]) reshape(dims []int) {
	a.d0, a.d1 = dims[0], dims[1]
	a.data = make([]T, a.d0*a.d1)
}

func (a *Array2[T]) each(fn func(p unsafe.Pointer) error) error {
	for i := range a.data {
		if err := fn(unsafe.Pointer(&a.data[i])); err != nil {
			return err
		}
	}
	return nil
}

// Array3 是长方体三维数组。
type Array3[T any] struct {
	d0, d1, d2 int
	data       []T
}

func NewArray3[T any](d0, d1, d2 int) *Array3[T] {
	if d0 < 0 || d1 < 0 || d2 < 0 {
		panic(fmt.Sprintf("netser: negative Array3 dims %dx%dx%d", d0, d1, d2))
	}
	return &Array3[T]{d0: d0, d1: d1, d2: d2, data: make([]T, d0*d1*d2)}
}

func (a *Array3[T]) Dims() (int, int, int) {
	return a.d0, a.d1, a.d2
}

func (a *Array3[T]) At(i, j, k int) T {
	return a.data[a.offset(i, j, k)]
}

func (a *Array3[T]) Set(i, j, k int, v T) {
	a.data[a.offset(i, j, k)] = v
}

func (a *Array3[T]) Data() []T {
	return a.data
}

func (a *Array3[T]) offset(i, j, k int) int {
	if i < 0 || i >= a.d0 || j < 0 || j >= a.d1 || k < 0 || k >= a.d2 {
		panic(fmt.Sprintf("netser: Array3 index [%d,%d,%d] out of range [%d,%d,%d]", i, j, k, a.d0, a.d1, a.d2))
	}
	return (i*a.d1+j)*a.d2 + k
}

func (a *Array3[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (a *Array3[T]) dims() []int            { return []int{a.d0, a.d1, a.d2} }

func (a *Array3[T]) reshape(dims []int) {
	a.d0, a.d1, a.d2 = dims[0], dims[1], dims[2]
	a.data = make([]T, a.d0*a.d1*a.d2)
}

func (a *Array3[T]) each(fn func(p unsafe.Pointer) error) error {
	for i := range a.data {
		if err := fn(unsafe.Pointer(&a.data[i])); err != nil {
			return err
		}
	}
	return nil
}
