package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const (
	// valueInputRaw stores written strings verbatim so rendered values
	// read back unchanged on the next pass.
	valueInputRaw = "RAW"

	valueRenderFormatted = "FORMATTED_VALUE"
)

// GoogleStore is a Store backed by one Google spreadsheet.
type GoogleStore struct {
	svc           *gsheets.Service
	spreadsheetID string
}

// NewGoogleStore creates a Sheets API client for spreadsheetID. Callers
// pass option.WithCredentialsFile in production and option.WithEndpoint
// plus option.WithoutAuthentication in tests.
func NewGoogleStore(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*GoogleStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &GoogleStore{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// ReadRange returns the formatted values in ref.
func (g *GoogleStore) ReadRange(ctx context.Context, ref string) ([][]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, ref).
		ValueRenderOption(valueRenderFormatted).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyAPIError(fmt.Errorf("reading %s: %w", ref, err))
	}

	grid := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		grid[i] = make([]string, len(row))
		for j, v := range row {
			grid[i][j] = cellString(v)
		}
	}

	return grid, nil
}

// WriteRange writes grid at the top-left of ref with RAW value input.
func (g *GoogleStore) WriteRange(ctx context.Context, ref string, grid [][]string) error {
	values := make([][]interface{}, len(grid))
	for i, row := range grid {
		values[i] = make([]interface{}, len(row))
		for j, v := range row {
			values[i][j] = v
		}
	}

	body := &gsheets.ValueRange{MajorDimension: "ROWS", Values: values}

	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, ref, body).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return classifyAPIError(fmt.Errorf("writing %s: %w", ref, err))
	}

	return nil
}

// Header returns the first row of ref.
func (g *GoogleStore) Header(ctx context.Context, ref string) ([]string, error) {
	grid, err := g.ReadRange(ctx, HeaderRef(ref))
	if err != nil {
		return nil, err
	}

	if len(grid) == 0 {
		return nil, nil
	}

	return grid[0], nil
}

// FirstSheetTitle returns the title of the spreadsheet's first tab.
func (g *GoogleStore) FirstSheetTitle(ctx context.Context) (string, error) {
	ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyAPIError(fmt.Errorf("reading spreadsheet metadata: %w", err))
	}

	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return "", fmt.Errorf("spreadsheet %s has no sheets", g.spreadsheetID)
	}

	return ss.Sheets[0].Properties.Title, nil
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// classifyAPIError marks transient API failures as ErrStoreUnavailable
// so the pass is aborted and retried on the next tick.
func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", syncerr.ErrStoreUnavailable, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", syncerr.ErrStoreUnavailable, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", syncerr.ErrStoreUnavailable, err)
		}
	}

	return err
}
