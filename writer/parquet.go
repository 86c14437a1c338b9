package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "equityflow/config"
	"equityflow/models"
)

// ParquetTradeRecord is the on-disk schema for tick data.
type ParquetTradeRecord struct {
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Volume     float64 `parquet:"name=volume, type=DOUBLE"`
	Venue      string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Conditions string  `parquet:"name=conditions, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ParquetQuoteRecord is the on-disk schema for NBBO data.
type ParquetQuoteRecord struct {
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Bid        float64 `parquet:"name=bid, type=DOUBLE"`
	BidVolume  float64 `parquet:"name=bid_volume, type=DOUBLE"`
	BidVenue   string  `parquet:"name=bid_venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Ask        float64 `parquet:"name=ask, type=DOUBLE"`
	AskVolume  float64 `parquet:"name=ask_volume, type=DOUBLE"`
	AskVenue   string  `parquet:"name=ask_venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Conditions string  `parquet:"name=conditions, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Writing is append-only; seeking is never exercised.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeBatch turns a DayBatch into parquet bytes using the configured
// compression. The schema follows the batch kind.
func encodeBatch(batch models.DayBatch, pqCfg appconfig.ParquetConfig) ([]byte, error) {
	fw := newMemoryFileWriter()

	par := pqCfg.RowGroupPar
	if par < 1 {
		par = 4
	}

	switch batch.Kind {
	case models.KindTick:
		pw, err := pqwriter.NewParquetWriter(fw, new(ParquetTradeRecord), par)
		if err != nil {
			return nil, fmt.Errorf("failed to create parquet writer: %w", err)
		}
		pw.CompressionType = compressionCodec(pqCfg.Compression)
		for _, t := range batch.Trades {
			record := ParquetTradeRecord{
				Symbol:     t.Symbol,
				Timestamp:  t.Timestamp,
				Price:      t.Price,
				Volume:     t.Volume,
				Venue:      t.Venue,
				Conditions: t.Conditions,
			}
			if err := pw.Write(record); err != nil {
				pw.WriteStop()
				return nil, fmt.Errorf("failed to write parquet record: %w", err)
			}
		}
		if err := pw.WriteStop(); err != nil {
			return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
		}
	case models.KindNBBO:
		pw, err := pqwriter.NewParquetWriter(fw, new(ParquetQuoteRecord), par)
		if err != nil {
			return nil, fmt.Errorf("failed to create parquet writer: %w", err)
		}
		pw.CompressionType = compressionCodec(pqCfg.Compression)
		for _, q := range batch.Quotes {
			record := ParquetQuoteRecord{
				Symbol:     q.Symbol,
				Timestamp:  q.Timestamp,
				Bid:        q.Bid,
				BidVolume:  q.BidVolume,
				BidVenue:   q.BidVenue,
				Ask:        q.Ask,
				AskVolume:  q.AskVolume,
				AskVenue:   q.AskVenue,
				Conditions: q.Conditions,
			}
			if err := pw.Write(record); err != nil {
				pw.WriteStop()
				return nil, fmt.Errorf("failed to write parquet record: %w", err)
			}
		}
		if err := pw.WriteStop(); err != nil {
			return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown data kind %q", batch.Kind)
	}

	return fw.Bytes(), nil
}
