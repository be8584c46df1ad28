package utils

import (
	"context"
	"fmt"
	"iter"
)

// Pagination состояние постраничного обхода удаленного списка
type Pagination struct {
	Page       int   `json:"page"`        // Номер текущей страницы
	PageSize   int   `json:"page_size"`   // Размер страницы
	FirstPage  int   `json:"first_page"`  // Номер первой страницы (0 или 1, зависит от API)
	TotalItems int64 `json:"total_items"` // Общее количество элементов по последнему ответу
	TotalPages int   `json:"total_pages"` // Общее количество страниц по последнему ответу
	HasNext    bool  `json:"has_next"`    // Есть ли следующая страница
}

// NewPagination создает новый экземпляр Pagination
func NewPagination(firstPage, pageSize int) *Pagination {
	if firstPage < 0 {
		firstPage = 0
	}

	if pageSize < 1 {
		pageSize = 10
	}

	return &Pagination{
		Page:      firstPage,
		PageSize:  pageSize,
		FirstPage: firstPage,
	}
}

// SetTotal устанавливает общее количество элементов и пересчитывает зависимые поля.
// Итог может расти между страницами; обход тогда продолжается до новой последней страницы.
func (p *Pagination) SetTotal(totalItems int64) {
	if totalItems < 0 {
		totalItems = 0
	}
	p.TotalItems = totalItems
	p.TotalPages = int((totalItems + int64(p.PageSize) - 1) / int64(p.PageSize))
	p.HasNext = p.index() < p.TotalPages-1
}

// SetTotalPages используется, когда API сообщает только число страниц
func (p *Pagination) SetTotalPages(totalPages int) {
	p.TotalPages = totalPages
	p.TotalItems = int64(totalPages) * int64(p.PageSize)
	p.HasNext = p.index() < p.TotalPages-1
}

func (p *Pagination) index() int {
	return p.Page - p.FirstPage
}

// Next переходит к следующей странице
func (p *Pagination) Next() {
	p.Page++
}

// GetOffset возвращает смещение для API со смещением
func (p *Pagination) GetOffset() int {
	return p.index() * p.PageSize
}

// GetLimit возвращает лимит
func (p *Pagination) GetLimit() int {
	return p.PageSize
}

// Page одна страница ответа
type Page[T any] struct {
	Items      []T
	TotalItems int64
	// TotalPages используется, если API не сообщает количество элементов
	TotalPages int
}

// PageFetcher загружает одну страницу
type PageFetcher[T any] func(ctx context.Context, p *Pagination) (Page[T], error)

// Paginate лениво обходит все страницы: первая задает итог, последующие
// могут его увеличить. Пустая страница завершает обход досрочно.
func Paginate[T any](ctx context.Context, p *Pagination, fetch PageFetcher[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			page, err := fetch(ctx, p)
			if err != nil {
				yield(zero, fmt.Errorf("page %d: %w", p.Page, err))
				return
			}

			if page.TotalPages > 0 {
				p.SetTotalPages(page.TotalPages)
			} else {
				p.SetTotal(page.TotalItems)
			}

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if len(page.Items) == 0 || !p.HasNext {
				return
			}
			p.Next()
		}
	}
}

// Distinct пропускает повтор элемента с уже встреченным ключом.
// Сдвиг списка между страницами отдает один элемент дважды. Ошибки проходят без проверки.
func Distinct[T any, K comparable](seq iter.Seq2[T, error], key func(T) K) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		seen := make(map[K]struct{})
		for v, err := range seq {
			if err == nil {
				k := key(v)
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
			}
			if !yield(v, err) {
				return
			}
		}
	}
}
