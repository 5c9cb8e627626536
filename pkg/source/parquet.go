package source

import (
	"fmt"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"
	pqSource "github.com/xitongsys/parquet-go/source"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
)

const parquetBatch = 1024

// parquetReader reads the leaf columns of a parquet file in layout order,
// one batch of every column at a time.
type parquetReader struct {
	_binder *rowBinder
	_file   pqSource.ParquetFile
	_reader *pqReader.ParquetReader
	_remain int64
	_batch  [][]any
	_pos    int
	_cnt    int
}

func openParquet(opts Options, binder *rowBinder) (Reader, error) {
	file, err := pqLocal.NewLocalFileReader(opts.Path)
	if err != nil {
		return nil, err
	}
	reader, err := pqReader.NewParquetColumnReader(file, 1)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &parquetReader{
		_binder: binder,
		_file:   file,
		_reader: reader,
		_remain: reader.GetNumRows(),
		_batch:  make([][]any, len(binder._cols)),
	}, nil
}

func (r *parquetReader) fill() error {
	n := min(r._remain, parquetBatch)
	rowCont := -1
	for j := range r._batch {
		values, _, _, err := r._reader.ReadColumnByIndex(int64(j), n)
		if err != nil {
			return err
		}
		if rowCont < 0 {
			rowCont = len(values)
		} else if len(values) != rowCont {
			return fmt.Errorf("column %d has different count of values %d with previous columns %d", j, len(values), rowCont)
		}
		r._batch[j] = values
	}
	r._remain -= int64(rowCont)
	r._pos = 0
	r._cnt = rowCont
	return nil
}

func (r *parquetReader) Next(m *match.Match) (bool, error) {
	if r._pos >= r._cnt {
		if r._remain <= 0 {
			return false, nil
		}
		if err := r.fill(); err != nil {
			return false, err
		}
		if r._cnt <= 0 {
			return false, nil
		}
	}
	r._binder.begin(m, len(m.Attrs))
	for j := range r._batch {
		if err := r._binder.setValue(m, j, r._batch[j][r._pos]); err != nil {
			return false, err
		}
	}
	r._pos++
	return true, nil
}

func (r *parquetReader) Close() error {
	r._reader.ReadStop()
	return r._file.Close()
}

// setValue stores one parquet value into column i. nil is NULL.
func (b *rowBinder) setValue(m *match.Match, i int, field any) error {
	col := &b._cols[i]
	if field == nil {
		return nil
	}
	switch {
	case col.Type.IsInt():
		switch v := field.(type) {
		case int32:
			b.setInt(m, i, int64(v))
		case int64:
			b.setInt(m, i, v)
		case bool:
			if v {
				b.setInt(m, i, 1)
			} else {
				b.setInt(m, i, 0)
			}
		default:
			return b.valueErr(i, field)
		}
	case col.Type == common.AttrFloat:
		switch v := field.(type) {
		case float32:
			m.SetFloat(b._locs[i], float64(v))
		case float64:
			m.SetFloat(b._locs[i], v)
		case int32:
			m.SetFloat(b._locs[i], float64(v))
		case int64:
			m.SetFloat(b._locs[i], float64(v))
		default:
			return b.valueErr(i, field)
		}
	case col.Type.IsBlob():
		var text string
		switch v := field.(type) {
		case string:
			text = v
		case []byte:
			text = string(v)
		default:
			return b.valueErr(i, field)
		}
		//csv rules for the text forms
		return b.setField(m, i, text)
	default:
		return b.valueErr(i, field)
	}
	return nil
}

func (b *rowBinder) valueErr(i int, field any) error {
	return fmt.Errorf("row %d column '%s': can not read %T as %s", b._line, b._cols[i].Name, field, b._cols[i].Type)
}
