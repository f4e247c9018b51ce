package checker

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"cppjudge/pkg/models"
)

// LoadPackFile reads a test-pack archive: files in1, in2, ... and
// out1, out2, ... (one-based, matched counts) plus a CONFIG file whose
// first two whitespace-separated tokens are the time limit in seconds
// and the memory limit in megabytes.
func LoadPackFile(path string) (*models.TestPack, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open test pack %s: %w", path, err)
	}
	defer r.Close()

	inputs := make(map[int][]byte)
	outputs := make(map[int][]byte)
	var config []byte

	for _, f := range r.File {
		name := f.Name
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", name, path, err)
		}
		switch {
		case name == "CONFIG":
			config = data
		case strings.HasPrefix(name, "in"):
			idx, err := strconv.Atoi(strings.TrimPrefix(name, "in"))
			if err != nil {
				continue
			}
			inputs[idx] = data
		case strings.HasPrefix(name, "out"):
			idx, err := strconv.Atoi(strings.TrimPrefix(name, "out"))
			if err != nil {
				continue
			}
			outputs[idx] = data
		}
	}

	if config == nil {
		return nil, fmt.Errorf("test pack %s has no CONFIG", path)
	}
	if len(inputs) != len(outputs) {
		return nil, fmt.Errorf("test pack %s has %d inputs but %d outputs", path, len(inputs), len(outputs))
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("test pack %s has no tests", path)
	}

	fields := strings.Fields(string(config))
	if len(fields) < 2 {
		return nil, fmt.Errorf("test pack %s CONFIG needs time and memory limits", path)
	}
	timeLimit, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("test pack %s CONFIG time limit: %w", path, err)
	}
	memLimit, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("test pack %s CONFIG memory limit: %w", path, err)
	}

	indices := make([]int, 0, len(inputs))
	for idx := range inputs {
		if _, ok := outputs[idx]; !ok {
			return nil, fmt.Errorf("test pack %s input %d has no matching output", path, idx)
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	pack := &models.TestPack{
		TimeLimitSeconds: timeLimit,
		MemoryLimitMB:    memLimit,
	}
	for _, idx := range indices {
		pack.Cases = append(pack.Cases, models.TestCase{
			Input:    inputs[idx],
			Expected: outputs[idx],
		})
	}
	return pack, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
