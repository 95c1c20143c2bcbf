package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"clinica/internal/config"
	"clinica/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var errRowNotFound = errors.New("appointment row not found")

var header = []interface{}{"ID", "Owner ID", "Email", "Service", "Date", "Time", "Status", "Created At", "Synced At"}

// SheetsClient mirrors appointments into one sheet of a spreadsheet, one
// row per appointment keyed by the id in column A.
type SheetsClient struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time

	cacheMu  sync.RWMutex
	rowCache map[string]int
}

// NewSheetsClient authenticates with a service account credentials file.
func NewSheetsClient(ctx context.Context, cfg config.GoogleConfig) (*SheetsClient, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsClient(srv, cfg.SpreadsheetID, cfg.SheetName), nil
}

func newSheetsClient(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsClient {
	if sheetName == "" {
		sheetName = "Citas"
	}
	return &SheetsClient{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		now:           time.Now,
		rowCache:      make(map[string]int),
	}
}

// TestConnection reads the header cell.
func (c *SheetsClient) TestConnection(ctx context.Context) error {
	_, err := c.service.Spreadsheets.Values.Get(c.spreadsheetID, c.rangeOf("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the column titles into row 1.
func (c *SheetsClient) EnsureHeader(ctx context.Context) error {
	_, err := c.service.Spreadsheets.Values.Update(c.spreadsheetID, c.rangeOf("A1:I1"), &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache rebuilds the id to row index from column A.
func (c *SheetsClient) WarmUpCache(ctx context.Context) error {
	resp, err := c.service.Spreadsheets.Values.Get(c.spreadsheetID, c.rangeOf("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if id := cellString(row); id != "" && i > 0 {
			cache[id] = i + 1
		}
	}

	c.cacheMu.Lock()
	c.rowCache = cache
	c.cacheMu.Unlock()
	return nil
}

// UpsertAppointment rewrites the appointment's row, appending one if the
// appointment is not in the sheet yet.
func (c *SheetsClient) UpsertAppointment(ctx context.Context, appt *models.Appointment) error {
	if appt == nil {
		return errors.New("appointment is nil")
	}

	rowIdx, err := c.findRow(ctx, appt.ID)
	if errors.Is(err, errRowNotFound) {
		return c.appendRow(ctx, appt)
	}
	if err != nil {
		return err
	}

	rangeData := c.rangeOf(fmt.Sprintf("A%d:I%d", rowIdx, rowIdx))
	_, err = c.service.Spreadsheets.Values.Update(c.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{c.rowValues(appt)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// DeleteAppointment clears the appointment's row. A missing row is not an error.
func (c *SheetsClient) DeleteAppointment(ctx context.Context, id string) error {
	rowIdx, err := c.findRow(ctx, id)
	if errors.Is(err, errRowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rangeData := c.rangeOf(fmt.Sprintf("A%d:I%d", rowIdx, rowIdx))
	_, err = c.service.Spreadsheets.Values.Clear(c.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		c.deleteCachedRow(id)
	}
	return err
}

func (c *SheetsClient) appendRow(ctx context.Context, appt *models.Appointment) error {
	resp, err := c.service.Spreadsheets.Values.Append(c.spreadsheetID, c.rangeOf("A:A"), &sheets.ValueRange{
		Values: [][]interface{}{c.rowValues(appt)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		digits := strings.TrimLeft(lastCell(resp.Updates.UpdatedRange), "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
		if row, convErr := strconv.Atoi(digits); convErr == nil && row > 0 {
			c.setCachedRow(appt.ID, row)
		}
	}
	return nil
}

// findRow returns the 1-based row of id, scanning column A on a cache miss.
func (c *SheetsClient) findRow(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, errors.New("appointment id is required")
	}
	if row, ok := c.getCachedRow(id); ok {
		return row, nil
	}

	resp, err := c.service.Spreadsheets.Values.Get(c.spreadsheetID, c.rangeOf("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellString(row) == id {
			c.setCachedRow(id, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

func (c *SheetsClient) rowValues(appt *models.Appointment) []interface{} {
	return []interface{}{
		appt.ID,
		appt.OwnerID,
		appt.OwnerEmail,
		appt.ServiceName,
		appt.Date,
		appt.Time,
		string(appt.Status),
		appt.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		c.now().UTC().Format("2006-01-02 15:04:05"),
	}
}

func (c *SheetsClient) rangeOf(cells string) string {
	return c.sheetName + "!" + cells
}

func (c *SheetsClient) getCachedRow(id string) (int, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	row, ok := c.rowCache[id]
	return row, ok
}

func (c *SheetsClient) setCachedRow(id string, row int) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.rowCache[id] = row
}

func (c *SheetsClient) deleteCachedRow(id string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	delete(c.rowCache, id)
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	if s, ok := row[0].(string); ok {
		return s
	}
	return fmt.Sprint(row[0])
}

// lastCell turns "Citas!A10:I10" into "A10".
func lastCell(updatedRange string) string {
	for i := len(updatedRange) - 1; i >= 0; i-- {
		if updatedRange[i] == '!' || updatedRange[i] == ':' {
			return updatedRange[i+1:]
		}
	}
	return updatedRange
}
