package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-fasteners/models"
)

// CSVPath returns the CSV file that sits next to a feed file.
func CSVPath(feedPath string) string {
	return strings.TrimSuffix(feedPath, filepath.Ext(feedPath)) + ".csv"
}

// RemoveFeed deletes a feed file. A missing file is not an error.
func RemoveFeed(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove feed %q: %w", path, err)
}

// ReadProducts loads a product feed. Both JSON Lines and a single JSON array
// are accepted.
func ReadProducts(path string) ([]*models.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var decoded []*models.Product
		if err := json.Unmarshal(trimmed, &decoded); err != nil {
			return nil, fmt.Errorf("decode feed %q: %w", path, err)
		}
		products := make([]*models.Product, 0, len(decoded))
		for _, p := range decoded {
			if p != nil {
				products = append(products, p)
			}
		}
		return products, nil
	}

	var products []*models.Product
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for n := 1; ; n++ {
		var p *models.Product
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode feed %q record %d: %w", path, n, err)
		}
		// null entries carry no product
		if p != nil {
			products = append(products, p)
		}
	}
	return products, nil
}

// CSVHeader returns the core product columns followed by every detail key
// seen across products, sorted.
func CSVHeader(products []*models.Product) []string {
	core := make(map[string]struct{}, len(models.CoreFields))
	for _, f := range models.CoreFields {
		core[f] = struct{}{}
	}

	extra := make(map[string]struct{})
	for _, p := range products {
		for k := range p.Details {
			if _, ok := core[k]; !ok {
				extra[k] = struct{}{}
			}
		}
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := make([]string, 0, len(models.CoreFields)+len(keys))
	header = append(header, models.CoreFields...)
	return append(header, keys...)
}

// WriteProductsCSV flattens products into a CSV file at path.
func WriteProductsCSV(path string, products []*models.Product) (err error) {
	w, err := NewCSVWriter(path, CSVHeader(products))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	records := make([]models.Record, len(products))
	for i, p := range products {
		records[i] = p
	}
	return w.Write(records)
}
