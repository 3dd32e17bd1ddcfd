package cache

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spherical/doc-ingest/internal/domain"
)

// payload is the persisted shape of a parse result. Older writers stored a
// bare JSON array of pages instead.
type payload struct {
	Pages  []domain.Page  `json:"pages"`
	Tables []domain.Table `json:"tables"`
	Method domain.Method  `json:"method,omitempty"`
}

// encodePayload serialises the cacheable part of a result.
func encodePayload(r *domain.ParseResult) ([]byte, error) {
	p := payload{Pages: r.Pages, Tables: r.Tables, Method: r.Method}
	if p.Pages == nil {
		p.Pages = []domain.Page{}
	}
	if p.Tables == nil {
		p.Tables = []domain.Table{}
	}
	return json.Marshal(p)
}

// decodePayload reads either payload shape and normalises it to the current
// one. Legacy entries have no tables and were always produced by the
// primary extractor.
func decodePayload(data []byte) (*payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty cache payload")
	}

	var p payload
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &p.Pages); err != nil {
			return nil, fmt.Errorf("decode legacy payload: %w", err)
		}
	case '{':
		var stored storedPayload
		if err := json.Unmarshal(trimmed, &stored); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		p.Pages, p.Method = stored.Pages, stored.Method
		for _, t := range stored.Tables {
			p.Tables = append(p.Tables, t.table())
		}
	default:
		return nil, fmt.Errorf("unrecognised cache payload shape")
	}

	if p.Pages == nil {
		p.Pages = []domain.Page{}
	}
	if p.Tables == nil {
		p.Tables = []domain.Table{}
	}
	for i := range p.Tables {
		p.Tables[i].RowCount = len(p.Tables[i].Rows)
	}
	if p.Method == "" {
		p.Method = domain.MethodPrimary
	}
	if !p.Method.Valid() {
		return nil, fmt.Errorf("unknown extraction method in cache payload: %q", p.Method)
	}
	for i, page := range p.Pages {
		if page.PageNumber != i+1 {
			return nil, fmt.Errorf("cache payload page %d out of order (got %d)", i+1, page.PageNumber)
		}
	}
	return &p, nil
}

// storedPayload is the decode side of payload. Table cells written by other
// producers may be numbers, booleans or null rather than strings.
type storedPayload struct {
	Pages  []domain.Page `json:"pages"`
	Tables []storedTable `json:"tables"`
	Method domain.Method `json:"method,omitempty"`
}

type storedTable struct {
	domain.Table
	Rows []map[string]cell `json:"data"`
}

func (t storedTable) table() domain.Table {
	out := t.Table
	out.Rows = make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = make(map[string]string, len(row))
		for k, v := range row {
			out.Rows[i][k] = string(v)
		}
	}
	return out
}

// cell reads a scalar JSON value as text: numbers and booleans keep their
// literal form, null becomes empty.
type cell string

func (c *cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = cell(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("table cell must be a scalar, got %s", data)
	default:
		*c = cell(data)
	}
	return nil
}
