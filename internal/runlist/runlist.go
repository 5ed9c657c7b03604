// Package runlist loads the prioritized CAM list that drives a batch run.
package runlist

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/treadline-ai/treadline/internal/domain"
)

// Load reads the priority runlist CSV at path, keeping at most total CAMs
// in file order. total <= 0 means no cap.
func Load(path string, total int) ([]domain.CAM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open runlist: %w", err)
	}
	defer f.Close()
	return Parse(f, total)
}

// Parse reads CAMs from a runlist CSV. The header must name Vehicle and
// Size columns; any other columns are ignored. Row order is the run
// priority and is preserved.
func Parse(r io.Reader, total int) ([]domain.CAM, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("runlist has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read runlist header: %w", err)
	}

	vehicleCol, sizeCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "﻿")) {
		case "Vehicle":
			vehicleCol = i
		case "Size":
			sizeCol = i
		}
	}
	if vehicleCol < 0 || sizeCol < 0 {
		return nil, fmt.Errorf("runlist missing Vehicle/Size columns, got header %v", header)
	}

	var cams []domain.CAM
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read runlist row: %w", err)
		}
		cams = append(cams, domain.CAM{Vehicle: cell(record, vehicleCol), Size: cell(record, sizeCol)})
		if total > 0 && len(cams) == total {
			break
		}
	}
	return cams, nil
}

// cell tolerates ragged rows: a missing column reads as empty, which the
// worker later rejects as INVALID_INPUT rather than the loader guessing.
func cell(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
