package catalog

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
)

//go:embed data/service_area.txt
var defaultServiceArea []byte

// ServiceArea is the set of ZIP codes that receive deliveries.
type ServiceArea struct {
	mu   sync.RWMutex
	zips map[string]struct{}
}

// DefaultServiceArea returns the built-in ZIP list.
func DefaultServiceArea() *ServiceArea {
	sa, err := ParseServiceArea(defaultServiceArea)
	if err != nil {
		panic(fmt.Sprintf("embedded service area is invalid: %v", err))
	}
	return sa
}

// NewServiceArea builds a service area from literal ZIP codes.
func NewServiceArea(zips ...string) *ServiceArea {
	sa := &ServiceArea{zips: make(map[string]struct{}, len(zips))}
	for _, z := range zips {
		if n := NormalizeZIP(z); n != "" {
			sa.zips[n] = struct{}{}
		}
	}
	return sa
}

// LoadServiceArea reads a ZIP list file: one code per line, # comments.
func LoadServiceArea(path string) (*ServiceArea, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service area: %w", err)
	}
	return ParseServiceArea(data)
}

// ParseServiceArea decodes a ZIP list.
func ParseServiceArea(data []byte) (*ServiceArea, error) {
	zips, err := parseZIPList(data)
	if err != nil {
		return nil, err
	}
	return &ServiceArea{zips: zips}, nil
}

// Reload replaces the ZIP set from a file, keeping the old set on error.
func (sa *ServiceArea) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read service area: %w", err)
	}
	zips, err := parseZIPList(data)
	if err != nil {
		return err
	}

	sa.mu.Lock()
	sa.zips = zips
	sa.mu.Unlock()
	return nil
}

func parseZIPList(data []byte) (map[string]struct{}, error) {
	zips := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		zip := NormalizeZIP(text)
		if len(zip) != 5 {
			return nil, fmt.Errorf("line %d: invalid ZIP code %q", line, text)
		}
		zips[zip] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan service area: %w", err)
	}
	if len(zips) == 0 {
		return nil, fmt.Errorf("service area is empty")
	}
	return zips, nil
}

// NormalizeZIP trims the input, drops a ZIP+4 suffix and strips non-digits.
func NormalizeZIP(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexByte(zip, '-'); i >= 0 {
		zip = zip[:i]
	}

	var b strings.Builder
	for _, r := range zip {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Contains reports whether the normalized zip is serviced.
func (sa *ServiceArea) Contains(zip string) bool {
	n := NormalizeZIP(zip)
	if n == "" {
		return false
	}

	sa.mu.RLock()
	defer sa.mu.RUnlock()
	_, ok := sa.zips[n]
	return ok
}

// Len returns the number of serviced ZIP codes.
func (sa *ServiceArea) Len() int {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	return len(sa.zips)
}
