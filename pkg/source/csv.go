package source

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/daviszhen/ranker/pkg/match"
)

type csvReader struct {
	_binder *rowBinder
	_file   *os.File
	_reader *csv.Reader
}

func openCSV(opts Options, binder *rowBinder) (Reader, error) {
	file, err := os.OpenFile(opts.Path, os.O_RDONLY, 0755)
	if err != nil {
		return nil, err
	}
	comma := ','
	if opts.Comma != 0 {
		comma = opts.Comma
	}
	ret := &csvReader{
		_binder: binder,
		_file:   file,
		_reader: csv.NewReader(file),
	}
	ret._reader.Comma = comma
	ret._reader.FieldsPerRecord = len(binder._cols)
	ret._reader.ReuseRecord = true
	if opts.Header {
		if _, err = ret._reader.Read(); err != nil && !errors.Is(err, io.EOF) {
			_ = file.Close()
			return nil, err
		}
	}
	return ret, nil
}

func (r *csvReader) Next(m *match.Match) (bool, error) {
	line, err := r._reader.Read()
	if err != nil {
		//EOF
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	r._binder.begin(m, len(m.Attrs))
	for i, field := range line {
		if err = r._binder.setField(m, i, field); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *csvReader) Close() error {
	r._reader = nil
	return r._file.Close()
}
