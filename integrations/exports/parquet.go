package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"drivechain/core/feed"
)

type parquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Time       string `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordID   string `parquet:"name=record_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Parquet builds a Snappy-compressed Parquet export.
func Parquet(entries []feed.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range Rows(entries) {
		attrs, err := encodeAttributes(row.Attributes)
		if err != nil {
			pw.WriteStop()
			return nil, "", err
		}
		pr := &parquetRow{
			Sequence:   int64(row.Sequence),
			Time:       row.Time.Format(time.RFC3339),
			Type:       row.Type,
			RecordID:   row.RecordID,
			Account:    row.Account,
			Amount:     row.Amount,
			Attributes: attrs,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

// Encode dispatches on format.
func Encode(format Format, entries []feed.Entry) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return CSV(entries)
	case FormatJSONL:
		return JSONL(entries)
	case FormatParquet:
		return Parquet(entries)
	default:
		return nil, "", fmt.Errorf("exports: unsupported format %q", format)
	}
}
