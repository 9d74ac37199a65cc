package bids

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// readTSV reads a BIDS tabular file into columns. "n/a" and empty cells are
// NaN; non-numeric columns are dropped.
func readTSV(path string) (map[string][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	names := append([]string(nil), header...)
	cols := make([][]float64, len(names))
	numeric := make([]bool, len(names))
	for j := range numeric {
		numeric[j] = true
	}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		for j := range names {
			v := math.NaN()
			if j < len(rec) && rec[j] != "" && rec[j] != "n/a" {
				f, perr := strconv.ParseFloat(rec[j], 64)
				if perr != nil {
					numeric[j] = false
				}
				v = f
			}
			cols[j] = append(cols[j], v)
		}
	}
	out := make(map[string][]float64, len(names))
	for j, name := range names {
		if numeric[j] {
			out[name] = cols[j]
		}
	}
	return out, nil
}
