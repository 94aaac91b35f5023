// Package exports renders change feed windows for auditors as CSV, JSON Lines
// or Parquet. Every export returns the payload with a SHA-256 checksum.
package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"drivechain/core/feed"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// Row is the flattened form of a feed entry shared by every format.
type Row struct {
	Sequence   uint64
	Time       time.Time
	Type       string
	RecordID   string
	Account    string
	Amount     string
	Attributes map[string]string
}

// Rows flattens entries. Record and account columns are filled from the
// attribute that carries them for each event type.
func Rows(entries []feed.Entry) []Row {
	out := make([]Row, 0, len(entries))
	for _, e := range entries {
		attrs := e.Event.Attributes
		row := Row{
			Sequence:   e.Sequence,
			Time:       e.Time.UTC(),
			Type:       e.Event.Type,
			Amount:     attrs["amount"],
			Attributes: attrs,
		}
		row.RecordID = firstNonEmpty(attrs["recordId"], attrs["id"])
		row.Account = firstNonEmpty(attrs["account"], attrs["owner"], attrs["from"], attrs["verifier"])
		out = append(out, row)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CSV builds a CSV export. Attributes are rendered as a JSON object column.
func CSV(entries []feed.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "time", "type", "record_id", "account", "amount", "attributes"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range Rows(entries) {
		attrs, err := encodeAttributes(row.Attributes)
		if err != nil {
			return nil, "", err
		}
		record := []string{
			strconv.FormatUint(row.Sequence, 10),
			row.Time.Format(time.RFC3339),
			row.Type,
			row.RecordID,
			row.Account,
			row.Amount,
			attrs,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

// JSONL builds a JSON Lines export, one entry per line.
func JSONL(entries []feed.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, entry := range entries {
		payload := map[string]interface{}{
			"sequence":   entry.Sequence,
			"time":       entry.Time.UTC().Format(time.RFC3339),
			"type":       entry.Event.Type,
			"attributes": entry.Event.Attributes,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

// encodeAttributes renders attributes with sorted keys so exports are
// reproducible.
func encodeAttributes(attrs map[string]string) (string, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(attrs[k])
		if err != nil {
			return "", err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}
