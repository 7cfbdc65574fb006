package weights

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// bandwidthWeightsKeyword starts the consensus footer line that carries the
// weight coefficients.
const bandwidthWeightsKeyword = "bandwidth-weights"

// ErrNoBandwidthWeights is returned when a consensus document does not
// contain a bandwidth-weights line.
var ErrNoBandwidthWeights = errors.New("consensus has no bandwidth-weights " +
	"line")

// ParseBandwidthWeights parses a single "bandwidth-weights Wbd=0 Wbe=0 ..."
// line into a table.
func ParseBandwidthWeights(line string) (*Table, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != bandwidthWeightsKeyword {
		return nil, fmt.Errorf("not a %s line: %q",
			bandwidthWeightsKeyword, line)
	}

	weights := make(map[string]int64, len(fields)-1)
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed weight %q", field)
		}

		w, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("weight %v: %w", key, err)
		}
		weights[key] = w
	}

	return NewTable(weights), nil
}

// ParseConsensus scans a consensus document for its bandwidth-weights line.
// Nothing else in the document is interpreted.
func ParseConsensus(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, bandwidthWeightsKeyword+" ") {
			continue
		}

		table, err := ParseBandwidthWeights(line)
		if err != nil {
			return nil, err
		}

		log.Debugf("Parsed %d bandwidth weights from consensus",
			table.Len())

		return table, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read consensus: %w", err)
	}

	return nil, ErrNoBandwidthWeights
}

// LoadConsensusFile reads the bandwidth weights of a cached consensus file,
// such as the cached-consensus file in tor's data directory.
func LoadConsensusFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConsensus(f)
}
