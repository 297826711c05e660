package backtest

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"banknifty-trader/internal/models"
)

// csvCandle is the broker-export row format for historical candles.
type csvCandle struct {
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    int64   `csv:"volume"`
}

// timestampFormats are accepted candle timestamp layouts, tried in order.
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ReadCandlesCSV parses candles from a CSV stream.
func ReadCandlesCSV(r io.Reader) ([]models.Candle, error) {
	var rows []csvCandle
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing candle CSV: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTimestamp(row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if row.Open <= 0 || row.High <= 0 || row.Low <= 0 || row.Close <= 0 {
			return nil, fmt.Errorf("row %d: non-positive price", i+1)
		}
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return candles, nil
}

// LoadCandlesCSV reads candles from a CSV file on disk.
func LoadCandlesCSV(path string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candle file: %w", err)
	}
	defer f.Close()
	return ReadCandlesCSV(f)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
