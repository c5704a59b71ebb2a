package starlark

// Estimation of the heap memory a value occupies, used to charge a
// thread's allocation budget. The numbers follow the Go runtime's own
// allocator: every block is rounded up to its size class, so the
// estimate matches what the garbage collector actually hands out
// rather than the sum of unsafe.Sizeof.
//
// EstimateSize walks the whole object graph reachable from one value,
// visiting shared and cyclic structure once. EstimateMakeSize prices a
// container of n elements shaped like a template, for builtins that
// want to charge before allocating.

import (
	"reflect"
	"unsafe"
)

const (
	maxSmallSize  = 32768
	smallSizeDiv  = 8
	smallSizeMax  = 1024
	largeSizeDiv  = 128
	pageSize      = 1 << 13
	ptrSize       = unsafe.Sizeof(uintptr(0))
	interfaceSize = unsafe.Sizeof(interface{}(nil))
)

var class_to_size = [...]uint16{0, 8, 16, 24, 32, 48, 64, 80, 96, 112, 128, 144, 160, 176, 192, 208, 224, 240, 256, 288, 320, 352, 384, 416, 448, 480, 512, 576, 640, 704, 768, 896, 1024, 1152, 1280, 1408, 1536, 1792, 2048, 2304, 2688, 3072, 3200, 3456, 4096, 4864, 5376, 6144, 6528, 6784, 6912, 8192, 9472, 9728, 10240, 10880, 12288, 13568, 14336, 16384, 18432, 19072, 20480, 21760, 24576, 27264, 28672, 32768}
var size_to_class8 = [smallSizeMax/smallSizeDiv + 1]uint8{0, 1, 2, 3, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13, 14, 14, 15, 15, 16, 16, 17, 17, 18, 18, 19, 19, 19, 19, 20, 20, 20, 20, 21, 21, 21, 21, 22, 22, 22, 22, 23, 23, 23, 23, 24, 24, 24, 24, 25, 25, 25, 25, 26, 26, 26, 26, 27, 27, 27, 27, 27, 27, 27, 27, 28, 28, 28, 28, 28, 28, 28, 28, 29, 29, 29, 29, 29, 29, 29, 29, 30, 30, 30, 30, 30, 30, 30, 30, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 31, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32, 32}
var size_to_class128 = [(maxSmallSize-smallSizeMax)/largeSizeDiv + 1]uint8{32, 33, 34, 35, 36, 37, 37, 38, 38, 39, 39, 40, 40, 40, 41, 41, 41, 42, 43, 43, 44, 44, 44, 44, 44, 45, 45, 45, 45, 45, 45, 46, 46, 46, 46, 47, 47, 47, 47, 47, 47, 48, 48, 48, 49, 49, 50, 51, 51, 51, 51, 51, 51, 51, 51, 51, 51, 52, 52, 52, 52, 52, 52, 52, 52, 52, 52, 53, 53, 54, 54, 54, 54, 55, 55, 55, 55, 55, 56, 56, 56, 56, 56, 56, 56, 56, 56, 56, 56, 57, 57, 57, 57, 57, 57, 57, 57, 57, 57, 58, 58, 58, 58, 58, 58, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 59, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 60, 61, 61, 61, 61, 61, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 62, 63, 63, 63, 63, 63, 63, 63, 63, 63, 63, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 64, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 65, 66, 66, 66, 66, 66, 66, 66, 66, 66, 66, 66, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67, 67}

func divRoundUp(n, a uintptr) uintptr { return (n + a - 1) / a }

func alignUp(n, a uintptr) uintptr { return (n + a - 1) &^ (a - 1) }

// GetAllocSize returns the size of the block the runtime allocator
// would use for an object of the given size.
func GetAllocSize(size uintptr) uintptr {
	if size < maxSmallSize {
		if size <= smallSizeMax-8 {
			return uintptr(class_to_size[size_to_class8[divRoundUp(size, smallSizeDiv)]])
		}
		return uintptr(class_to_size[size_to_class128[divRoundUp(size-smallSizeMax, largeSizeDiv)]])
	}
	if size+pageSize < size {
		return size
	}
	return alignUp(size, pageSize)
}

// StringTypeOverhead is the cost of a string header; SliceTypeOverhead
// the cost of a slice header. Builtins add one of these when they box
// a freshly built string or slice into a Value.
var (
	StringTypeOverhead = EstimateSize("")
	SliceTypeOverhead  = EstimateSize([]struct{}{})
)

// EstimateSize returns the estimated heap size of the object tree
// rooted at obj. A type that knows better than reflection (e.g. one
// with memory not visible to Go) can implement SizeAware to override
// the walk.
func EstimateSize(obj interface{}) int64 {
	if obj == nil {
		return 0
	}
	if sized, ok := obj.(SizeAware); ok {
		return sized.EstimateSize()
	}
	seen := make(map[uintptr]bool)
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0
		}
		return blockSize(v.Type().Elem().Size()) + int64(indirectSize(v.Elem(), seen))
	}
	// A non-pointer reaches the heap boxed in an interface.
	return blockSize(v.Type().Size()) + int64(indirectSize(v, seen))
}

// EstimateMakeSize returns the estimated cost of allocating a
// container of n elements shaped like the template: a slice template
// prices the backing array, and if the template holds a sample
// element, the sample's own heap cost is charged once per element; a
// map template prices the table the runtime would build for n
// entries.
func EstimateMakeSize(template interface{}, n int) int64 {
	v := reflect.ValueOf(template)
	switch v.Kind() {
	case reflect.Slice:
		elem := v.Type().Elem()
		size := blockSize(uintptr(n) * elem.Size())
		if v.Len() > 0 {
			sample := v.Index(0)
			perElem := int64(indirectSize(sample, make(map[uintptr]bool)))
			if sample.Kind() == reflect.Interface && !sample.IsNil() {
				perElem += blockSize(sample.Elem().Type().Size())
			}
			size += int64(n) * perElem
		}
		return size
	case reflect.Map:
		// A bucket holds eight key/value pairs plus per-entry
		// bookkeeping; oversized keys or values are stored indirectly.
		const maxElementSize = 128
		k, val := v.Type().Key().Size(), v.Type().Elem().Size()
		if k > maxElementSize {
			k = ptrSize
		}
		if val > maxElementSize {
			val = ptrSize
		}
		perEntry := (k+val+1)*9/8 + ptrSize
		const tableOverhead = 48
		return blockSize(uintptr(n)*perEntry) + tableOverhead
	}
	panic("EstimateMakeSize: template must be a slice or map")
}

func blockSize(size uintptr) int64 {
	if size == 0 {
		return 0
	}
	return int64(GetAllocSize(size))
}

// indirectSize returns the heap memory reachable from v beyond v's own
// inline representation. Pointer-like values already visited are
// counted once, so shared and cyclic structure is priced fairly.
func indirectSize(v reflect.Value, seen map[uintptr]bool) uintptr {
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return 0
		}
		seen[ptr] = true
	}

	switch v.Kind() {
	case reflect.String:
		return GetAllocSize(uintptr(v.Len()))

	case reflect.Ptr:
		return uintptr(blockSize(v.Type().Elem().Size())) + indirectSize(v.Elem(), seen)

	case reflect.Slice:
		elem := v.Type().Elem()
		total := GetAllocSize(uintptr(v.Cap()) * elem.Size())
		for i := 0; i < v.Len(); i++ {
			total += indirectSize(v.Index(i), seen)
		}
		return total

	case reflect.Array:
		var total uintptr
		for i := 0; i < v.Len(); i++ {
			total += indirectSize(v.Index(i), seen)
		}
		return total

	case reflect.Struct:
		var total uintptr
		for i := 0; i < v.NumField(); i++ {
			total += indirectSize(v.Field(i), seen)
		}
		return total

	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		inner := v.Elem()
		var total uintptr
		switch inner.Kind() {
		case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.String:
			// The box holds the header or pointer inline.
		default:
			total += uintptr(blockSize(inner.Type().Size()))
		}
		return total + indirectSize(inner, seen)

	case reflect.Map:
		// Priced like EstimateMakeSize, plus the entries' own trees.
		total := uintptr(EstimateMakeSize(reflect.MakeMap(v.Type()).Interface(), v.Len()))
		iter := v.MapRange()
		for iter.Next() {
			total += indirectSize(iter.Key(), seen)
			total += indirectSize(iter.Value(), seen)
		}
		return total

	case reflect.Chan:
		return GetAllocSize(uintptr(v.Cap()) * v.Type().Elem().Size())
	}
	return 0
}
