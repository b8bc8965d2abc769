package bucket

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ReadFile reads every row of a bucket file.
func ReadFile(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// FileInfo is the footer summary of a bucket file.
type FileInfo struct {
	Rows      int64
	RowGroups []int64 // rows per row group
	Job       string
	RunID     string
	Bucket    string
}

// Inspect reads the footer of a bucket file.
func Inspect(path string) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return FileInfo{}, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return FileInfo{}, fmt.Errorf("open parquet %s: %w", path, err)
	}

	info := FileInfo{Rows: pf.NumRows()}
	for _, rg := range pf.RowGroups() {
		info.RowGroups = append(info.RowGroups, rg.NumRows())
	}
	info.Job, _ = pf.Lookup(MetaJob)
	info.RunID, _ = pf.Lookup(MetaRunID)
	info.Bucket, _ = pf.Lookup(MetaBucket)
	return info, nil
}
