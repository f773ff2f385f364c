package sstable

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
)

var ErrCorrupted = errors.New("sstable: model corrupted")

// Serialize writes m to file. The first line holds the matrix shape as
// "rows,cols", every following line a "row,col,value" triple. Zero
// entries are not written.
func Serialize(m mat.Matrix, fn string) error {
	out, err := os.OpenFile(fn, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	r, c := m.Dims()
	fmt.Fprintf(w, "%d,%d\n", r, c)

	for ridx := 0; ridx < r; ridx += 1 {
		for cidx := 0; cidx < c; cidx += 1 {
			val := m.At(ridx, cidx)
			if val != 0 {
				fmt.Fprintf(w, "%d,%d,%s\n", ridx, cidx,
					strconv.FormatFloat(val, 'g', -1, 64))
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return out.Close()
}

// Deserialize reads a matrix written by Serialize. Malformed triples are
// logged and skipped.
func Deserialize(fn string) (*mat.Dense, error) {
	file, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	lineIdx := 0
	var tmp *mat.Dense

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		txt := scanner.Text()
		lineIdx += 1
		if tmp == nil {
			shape := strings.Split(txt, ",")
			if len(shape) != 2 {
				return nil, fmt.Errorf("%w: shape not found: %s", ErrCorrupted, txt)
			}
			row, err := strconv.Atoi(shape[0])
			if err != nil {
				return nil, err
			}
			col, err := strconv.Atoi(shape[1])
			if err != nil {
				return nil, err
			}
			if row <= 0 || col <= 0 {
				return nil, fmt.Errorf("%w: bad shape %d,%d", ErrCorrupted, row, col)
			}
			tmp = mat.NewDense(row, col, nil)
			continue
		}

		value := strings.Split(txt, ",")
		if len(value) != 3 {
			log.Infof("data corrupted, row %d, data %s", lineIdx, txt)
			continue
		}
		ridx, err := strconv.Atoi(value[0])
		if err != nil {
			return nil, err
		}
		cidx, err := strconv.Atoi(value[1])
		if err != nil {
			return nil, err
		}
		val, err := strconv.ParseFloat(value[2], 64)
		if err != nil {
			return nil, err
		}
		r, c := tmp.Dims()
		if ridx < 0 || ridx >= r || cidx < 0 || cidx >= c {
			return nil, fmt.Errorf("%w: index %d,%d outside %d,%d", ErrCorrupted, ridx, cidx, r, c)
		}
		tmp.Set(ridx, cidx, val)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if tmp == nil {
		return nil, fmt.Errorf("%w: empty file", ErrCorrupted)
	}
	return tmp, nil
}
