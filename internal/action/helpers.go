package action

import (
	"fmt"

	"tidb-dataframe/internal/coltype"
)

// Every helper keeps one partial result per slot. Exec only touches the
// partial of the calling slot. Finalize folds partials in ascending slot order,
// which keeps floating point results reproducible for a fixed slot count.

type minHelper[T coltype.Number] struct {
	result   *T
	partials []T
	seen     []bool
}

func newMin[T coltype.Number](result *T, slots int) *minHelper[T] {
	return &minHelper[T]{result: result, partials: make([]T, slots), seen: make([]bool, slots)}
}

func (h *minHelper[T]) InitSlot(slot int) {
	var zero T
	h.partials[slot] = zero
	h.seen[slot] = false
}

func (h *minHelper[T]) Exec(slot int, args []any) error {
	v, ok := args[0].(T)
	if !ok {
		return valueTypeError(fmt.Sprintf("%T", *new(T)), args[0])
	}
	if !h.seen[slot] || v < h.partials[slot] {
		h.partials[slot] = v
		h.seen[slot] = true
	}
	return nil
}

func (h *minHelper[T]) Finalize() error {
	var out T
	found := false
	for slot, p := range h.partials {
		if !h.seen[slot] {
			continue
		}
		if !found || p < out {
			out = p
			found = true
		}
	}
	*h.result = out
	return nil
}

type maxHelper[T coltype.Number] struct {
	result   *T
	partials []T
	seen     []bool
}

func newMax[T coltype.Number](result *T, slots int) *maxHelper[T] {
	return &maxHelper[T]{result: result, partials: make([]T, slots), seen: make([]bool, slots)}
}

func (h *maxHelper[T]) InitSlot(slot int) {
	var zero T
	h.partials[slot] = zero
	h.seen[slot] = false
}

func (h *maxHelper[T]) Exec(slot int, args []any) error {
	v, ok := args[0].(T)
	if !ok {
		return valueTypeError(fmt.Sprintf("%T", *new(T)), args[0])
	}
	if !h.seen[slot] || v > h.partials[slot] {
		h.partials[slot] = v
		h.seen[slot] = true
	}
	return nil
}

func (h *maxHelper[T]) Finalize() error {
	var out T
	found := false
	for slot, p := range h.partials {
		if !h.seen[slot] {
			continue
		}
		if !found || p > out {
			out = p
			found = true
		}
	}
	*h.result = out
	return nil
}

type sumHelper[T coltype.Number] struct {
	result   *T
	partials []T
}

func newSum[T coltype.Number](result *T, slots int) *sumHelper[T] {
	return &sumHelper[T]{result: result, partials: make([]T, slots)}
}

func (h *sumHelper[T]) InitSlot(slot int) {
	var zero T
	h.partials[slot] = zero
}

func (h *sumHelper[T]) Exec(slot int, args []any) error {
	v, ok := args[0].(T)
	if !ok {
		return valueTypeError(fmt.Sprintf("%T", *new(T)), args[0])
	}
	h.partials[slot] += v
	return nil
}

func (h *sumHelper[T]) Finalize() error {
	var total T
	for _, p := range h.partials {
		total += p
	}
	*h.result = total
	return nil
}

type meanHelper[T coltype.Number] struct {
	result *float64
	sums   []float64
	counts []uint64
}

func newMean[T coltype.Number](result *float64, slots int) *meanHelper[T] {
	return &meanHelper[T]{result: result, sums: make([]float64, slots), counts: make([]uint64, slots)}
}

func (h *meanHelper[T]) InitSlot(slot int) {
	h.sums[slot] = 0
	h.counts[slot] = 0
}

func (h *meanHelper[T]) Exec(slot int, args []any) error {
	v, ok := args[0].(T)
	if !ok {
		return valueTypeError(fmt.Sprintf("%T", *new(T)), args[0])
	}
	h.sums[slot] += float64(v)
	h.counts[slot]++
	return nil
}

func (h *meanHelper[T]) Finalize() error {
	var sum float64
	var n uint64
	for slot := range h.sums {
		sum += h.sums[slot]
		n += h.counts[slot]
	}
	if n == 0 {
		*h.result = 0
		return nil
	}
	*h.result = sum / float64(n)
	return nil
}

type countHelper struct {
	result   *uint64
	partials []uint64
}

func newCount(result *uint64, slots int) *countHelper {
	return &countHelper{result: result, partials: make([]uint64, slots)}
}

func (h *countHelper) InitSlot(slot int) { h.partials[slot] = 0 }

func (h *countHelper) Exec(slot int, _ []any) error {
	h.partials[slot]++
	return nil
}

func (h *countHelper) Finalize() error {
	var total uint64
	for _, p := range h.partials {
		total += p
	}
	*h.result = total
	return nil
}

// takeHelper collects values. Within a slot values keep processing order;
// slots are concatenated in ascending order.
type takeHelper[T any] struct {
	result   *[]T
	partials [][]T
}

func newTake[T any](result *[]T, slots int) *takeHelper[T] {
	return &takeHelper[T]{result: result, partials: make([][]T, slots)}
}

func (h *takeHelper[T]) InitSlot(slot int) { h.partials[slot] = h.partials[slot][:0] }

func (h *takeHelper[T]) Exec(slot int, args []any) error {
	v, ok := args[0].(T)
	if !ok {
		return valueTypeError(fmt.Sprintf("%T", *new(T)), args[0])
	}
	h.partials[slot] = append(h.partials[slot], v)
	return nil
}

func (h *takeHelper[T]) Finalize() error {
	n := 0
	for _, p := range h.partials {
		n += len(p)
	}
	out := make([]T, 0, n)
	for _, p := range h.partials {
		out = append(out, p...)
	}
	*h.result = out
	return nil
}
