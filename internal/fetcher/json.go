package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadJSONTable reads a JSON array of flat objects, [{...},{...}], into a
// Table. The header is the union of object keys in first-seen order.
// Strings are trimmed, null becomes empty and other values keep their JSON
// text, so numbers arrive exactly as written.
func ReadJSONTable(ctx context.Context, r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	t := &Table{}
	index := make(map[string]int)
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "json: context cancelled")
		}
		row, err := readObject(dec, t, index)
		if err != nil {
			return nil, eris.Wrapf(err, "json: element %d", len(t.Rows))
		}
		t.Rows = append(t.Rows, row)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	for i, row := range t.Rows {
		for len(row) < len(t.Header) {
			row = append(row, "")
		}
		t.Rows[i] = row
	}
	return t, nil
}

func readObject(dec *json.Decoder, t *Table, index map[string]int) ([]string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	row := make([]string, len(t.Header))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "json: read key")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, eris.Errorf("json: expected object key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, eris.Wrapf(err, "json: decode %q", key)
		}

		i, seen := index[key]
		if !seen {
			i = len(t.Header)
			index[key] = i
			t.Header = append(t.Header, key)
		}
		for len(row) <= i {
			row = append(row, "")
		}
		row[i] = cellText(raw)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return row, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return eris.Errorf("json: unexpected end of input, want %q", want)
		}
		return eris.Wrapf(err, "json: read %q", want)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return eris.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

func cellText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
