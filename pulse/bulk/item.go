package bulk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/teranos/zbulk/errors"
)

// Item is one row of a bulk job. Immutable once the run starts.
type Item struct {
	Row        int            `json:"row"`        // 1-based position in the caller's list
	Identifier string         `json:"identifier"` // Correlation and resume key
	Data       map[string]any `json:"data"`
}

// ItemsFromRows turns raw rows into Items. The identifier is read from
// identifierField; an empty field name falls back to the row number.
func ItemsFromRows(rows []map[string]any, identifierField string) ([]Item, error) {
	return ItemsFromNumberedRows(rows, nil, identifierField)
}

// ItemsFromNumberedRows is ItemsFromRows with the caller's own row numbers,
// for sources that drop rows (blank lines) without renumbering the rest.
// numbers must be nil or hold one strictly increasing, positive number per row.
func ItemsFromNumberedRows(rows []map[string]any, numbers []int, identifierField string) ([]Item, error) {
	if numbers != nil && len(numbers) != len(rows) {
		return nil, errors.Wrapf(ErrInvalidItems, "%d row numbers for %d rows", len(numbers), len(rows))
	}

	items := make([]Item, 0, len(rows))
	prev := 0
	for i, row := range rows {
		rowNum := i + 1
		if numbers != nil {
			rowNum = numbers[i]
			if rowNum <= prev {
				return nil, errors.Wrapf(ErrInvalidItems, "row number %d after %d", rowNum, prev)
			}
			prev = rowNum
		}
		identifier := strconv.Itoa(rowNum)

		if identifierField != "" {
			raw, ok := row[identifierField]
			if !ok || raw == nil {
				return nil, errors.Wrapf(ErrInvalidItems, "row %d has no %q", rowNum, identifierField)
			}
			identifier = strings.TrimSpace(fmt.Sprint(raw))
			if identifier == "" {
				return nil, errors.Wrapf(ErrInvalidItems, "row %d has an empty %q", rowNum, identifierField)
			}
		}

		items = append(items, Item{Row: rowNum, Identifier: identifier, Data: row})
	}
	return items, nil
}

// ItemsDigest fingerprints an item list: rows, identifiers and data, in
// order. Two lists with the same digest carry the same work, so row-number
// identifiers from one are meaningful for the other.
func ItemsDigest(items []Item) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			fmt.Fprintf(h, "%d\x00%s\x00%v\n", item.Row, item.Identifier, item.Data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome is the result of processing one Item
type Outcome struct {
	Row           int             `json:"row"`
	Identifier    string          `json:"identifier"`
	Success       bool            `json:"success"`
	Details       string          `json:"details,omitempty"`
	RawResponse   json.RawMessage `json:"raw_response,omitempty"`
	FailureReason FailureReason   `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
}

// Succeeded builds a successful Outcome for item
func Succeeded(item Item, details string, raw json.RawMessage) Outcome {
	return Outcome{
		Row:         item.Row,
		Identifier:  item.Identifier,
		Success:     true,
		Details:     details,
		RawResponse: raw,
	}
}

// Failed builds a failed Outcome for item
func Failed(item Item, reason FailureReason, details string) Outcome {
	return Outcome{
		Row:           item.Row,
		Identifier:    item.Identifier,
		Details:       details,
		FailureReason: reason,
	}
}

// FailedWithError builds a failed Outcome, classifying err
func FailedWithError(item Item, err error) Outcome {
	return Failed(item, ClassifyError(err), err.Error())
}

// Processor handles one item: validate, call the remote, report the outcome.
// Item-level failures are reported in the Outcome, never as a panic.
//
// Context cancellation: the context is cancelled when the job ends, so
// processors should pass it to every blocking call.
type Processor interface {
	Process(ctx context.Context, item Item) Outcome
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, item Item) Outcome

// Process calls f(ctx, item)
func (f ProcessorFunc) Process(ctx context.Context, item Item) Outcome {
	return f(ctx, item)
}
