package utils

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) ([]T, error) {
	t.Helper()
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestPaginate_AllPages(t *testing.T) {
	data := []int{1, 2, 3, 4, 5}
	var seen []int
	fetch := func(_ context.Context, p *Pagination) (Page[int], error) {
		seen = append(seen, p.Page)
		start := p.GetOffset()
		end := min(start+p.GetLimit(), len(data))
		return Page[int]{Items: data[start:end], TotalItems: int64(len(data))}, nil
	}

	got, err := collect(t, Paginate(context.Background(), NewPagination(0, 2), fetch))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestPaginate_TotalGrowsMidScan(t *testing.T) {
	data := []int{1, 2, 3, 4}
	fetch := func(_ context.Context, p *Pagination) (Page[int], error) {
		if p.Page == 2 {
			data = append(data, 5, 6)
		}
		start := p.GetOffset()
		end := min(start+p.GetLimit(), len(data))
		return Page[int]{Items: data[start:end], TotalItems: int64(len(data))}, nil
	}

	got, err := collect(t, Paginate(context.Background(), NewPagination(1, 2), fetch))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)
}

func TestPaginate_InsertAheadOfCursor(t *testing.T) {
	// после первой страницы в начало списка добавлен листинг, B сдвинулся на вторую
	pages := map[int]Page[string]{
		0: {Items: []string{"A", "B"}, TotalItems: 3},
		1: {Items: []string{"B", "C"}, TotalItems: 4},
	}
	fetch := func(_ context.Context, p *Pagination) (Page[string], error) {
		return pages[p.Page], nil
	}

	raw, err := collect(t, Paginate(context.Background(), NewPagination(0, 2), fetch))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "B", "C"}, raw)

	got, err := collect(t, Distinct(Paginate(context.Background(), NewPagination(0, 2), fetch), func(s string) string { return s }))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestDistinct_PassesErrors(t *testing.T) {
	boom := errors.New("boom")
	seq := func(yield func(int, error) bool) {
		for _, v := range []int{1, 1, 0, 2} {
			var err error
			if v == 0 {
				err = boom
			}
			if !yield(v, err) {
				return
			}
		}
	}

	var vals []int
	var errs int
	for v, err := range Distinct(seq, func(v int) int { return v }) {
		if err != nil {
			errs++
			continue
		}
		vals = append(vals, v)
	}
	assert.Equal(t, []int{1, 2}, vals)
	assert.Equal(t, 1, errs)
}

func TestPaginate_StopsOnEmptyPage(t *testing.T) {
	calls := 0
	fetch := func(_ context.Context, p *Pagination) (Page[int], error) {
		calls++
		if p.Page > 0 {
			return Page[int]{TotalPages: 10}, nil
		}
		return Page[int]{Items: []int{7}, TotalPages: 10}, nil
	}

	got, err := collect(t, Paginate(context.Background(), NewPagination(0, 1), fetch))
	require.NoError(t, err)
	assert.Equal(t, []int{7}, got)
	assert.Equal(t, 2, calls)
}

func TestPaginate_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(_ context.Context, p *Pagination) (Page[int], error) {
		if p.Page == 1 {
			return Page[int]{}, boom
		}
		return Page[int]{Items: []int{1}, TotalItems: 3}, nil
	}

	got, err := collect(t, Paginate(context.Background(), NewPagination(0, 1), fetch))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, got)
}
