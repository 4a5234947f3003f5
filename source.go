package talisman

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"reflect"
)

// Source is a pull-based stream of objects. Next returns io.EOF once the
// source is exhausted. The renderer only calls Next when the consumer of the
// output is ready for more, so a Source is paused simply by not being called.
//
// Sources that also implement io.Closer are closed when rendering finishes
// with them or the render is abandoned.
type Source interface {
	Next(ctx context.Context) (any, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (any, error)

func (f SourceFunc) Next(ctx context.Context) (any, error) {
	return f(ctx)
}

// FromSlice returns a Source yielding the elements of items in order.
func FromSlice[T any](items []T) Source {
	i := 0
	return SourceFunc(func(ctx context.Context) (any, error) {
		if i >= len(items) {
			return nil, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

// FromChannel returns a Source that receives from ch until it is closed.
func FromChannel[T any](ch <-chan T) Source {
	return SourceFunc(func(ctx context.Context) (any, error) {
		select {
		case item, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			return item, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// reflectChanSource receives from a channel of any element type bound
// directly as a value.
type reflectChanSource struct {
	ch reflect.Value
}

func (s reflectChanSource) Next(ctx context.Context) (any, error) {
	chosen, item, ok := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: s.ch},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
	})
	if chosen == 1 {
		return nil, ctx.Err()
	}
	if !ok {
		return nil, io.EOF
	}
	return item.Interface(), nil
}

// RowSource streams the rows of a query result as map[string]any keyed by
// column name. Rows are scanned one Next call at a time, so a slow consumer
// never makes the query run ahead of it.
type RowSource struct {
	rows    *sql.Rows
	columns []string
}

// FromRows wraps rows. The RowSource takes ownership and closes rows.
func FromRows(rows *sql.Rows) *RowSource {
	return &RowSource{rows: rows}
}

func (s *RowSource) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.columns == nil {
		columns, err := s.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read columns: %w", err)
		}
		s.columns = columns
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		return nil, io.EOF
	}

	values := make([]any, len(s.columns))
	dest := make([]any, len(s.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	row := make(map[string]any, len(s.columns))
	for i, column := range s.columns {
		if b, ok := values[i].([]byte); ok {
			row[column] = string(b)
			continue
		}
		row[column] = values[i]
	}
	return row, nil
}

// Close releases the underlying rows.
func (s *RowSource) Close() error {
	return s.rows.Close()
}
