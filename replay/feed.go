// Package replay reads recorded ticks and fills from CSV.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/riskguard/market"
)

// EventFill marks a row that also carries a trade confirmation.
const EventFill = "FILL"

// Row is one CSV line: a tick and, for FILL rows, the confirmation that
// follows it.
type Row struct {
	Tick market.Tick
	Fill *market.TradeConfirmation
}

type Feed struct {
	c    io.Closer
	r    *csv.Reader
	from time.Time
	to   time.Time
	line int

	sawFirst bool
}

// Open reads path, keeping rows with from <= time < to (zero bounds are
// open).
func Open(path string, from, to time.Time) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	feed := NewFeed(f, from, to)
	feed.c = f
	return feed, nil
}

func NewFeed(r io.Reader, from, to time.Time) *Feed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	return &Feed{r: cr, from: from, to: to}
}

func (f *Feed) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

// Next returns the next row, or false at end of input.
//
// Columns: time,symbol,price,volume,event,side,quantity,fill_price.
// A header is allowed; trailing columns may be omitted.
func (f *Feed) Next() (Row, bool, error) {
	for {
		rec, err := f.r.Read()
		if err == io.EOF {
			return Row{}, false, nil
		}
		if err != nil {
			return Row{}, false, err
		}
		f.line++
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
				continue
			}
		}
		if len(rec) < 3 {
			return Row{}, false, fmt.Errorf("line %d: need at least time,symbol,price", f.line)
		}
		if len(rec) > 8 {
			return Row{}, false, fmt.Errorf("line %d: too many columns (expected <=8)", f.line)
		}

		row, err := parseRow(rec)
		if err != nil {
			return Row{}, false, fmt.Errorf("line %d: %w", f.line, err)
		}
		if !inRange(row.Tick.Time, f.from, f.to) {
			continue
		}
		return row, true, nil
	}
}

func col(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func parseRow(rec []string) (Row, error) {
	ts, err := parseTime(col(rec, 0))
	if err != nil {
		return Row{}, err
	}
	sym := col(rec, 1)
	if sym == "" {
		return Row{}, fmt.Errorf("empty symbol")
	}
	price, err := parseFloat(col(rec, 2))
	if err != nil {
		return Row{}, fmt.Errorf("bad price %q: %w", col(rec, 2), err)
	}
	var volume float64
	if v := col(rec, 3); v != "" {
		if volume, err = parseFloat(v); err != nil {
			return Row{}, fmt.Errorf("bad volume %q: %w", v, err)
		}
	}

	row := Row{Tick: market.Tick{Symbol: sym, Price: price, Volume: volume, Time: ts}}

	switch ev := strings.ToUpper(col(rec, 4)); ev {
	case "":
	case EventFill:
		side, err := market.ParseSide(col(rec, 5))
		if err != nil {
			return Row{}, err
		}
		qty, err := parseFloat(col(rec, 6))
		if err != nil {
			return Row{}, fmt.Errorf("bad quantity %q: %w", col(rec, 6), err)
		}
		fill := price
		if v := col(rec, 7); v != "" {
			if fill, err = parseFloat(v); err != nil {
				return Row{}, fmt.Errorf("bad fill price %q: %w", v, err)
			}
		}
		row.Fill = &market.TradeConfirmation{
			ID:         fmt.Sprintf("replay-%s-%d", sym, ts.UnixNano()),
			Symbol:     sym,
			Side:       side,
			Quantity:   qty,
			Price:      fill,
			ExecutedAt: ts,
		}
	default:
		return Row{}, fmt.Errorf("unknown event %q", ev)
	}
	return row, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// Pump sends every row to ticks and fills, then closes both channels.
func Pump(ctx context.Context, f *Feed, ticks chan<- market.Tick, fills chan<- market.TradeConfirmation) error {
	defer close(ticks)
	defer close(fills)

	for {
		row, ok, err := f.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		select {
		case ticks <- row.Tick:
		case <-ctx.Done():
			return ctx.Err()
		}
		if row.Fill != nil {
			select {
			case fills <- *row.Fill:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
