package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"zapys/internal/domain"
	"zapys/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var _ domain.SheetsWriter = (*SheetsService)(nil)

const (
	lastColumn     = "L"
	statusColumn   = "K"
	dateTimeLayout = "2006-01-02 15:04:05"
)

var errRowNotFound = errors.New("record row not found")

// SheetsService mirrors reservations into one spreadsheet row per record code.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	loc           *time.Location
	now           func() time.Time

	cacheMu  sync.RWMutex
	rowCache map[string]int
	cachedAt time.Time
	cacheTTL time.Duration
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, loc *time.Location) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsService(srv, spreadsheetID, sheetName, loc), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string, loc *time.Location) *SheetsService {
	if loc == nil {
		loc = time.UTC
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		loc:           loc,
		now:           time.Now,
		rowCache:      make(map[string]int),
		cacheTTL:      models.SheetsCacheTTL * time.Second,
	}
}

// TestConnection reads the header cell.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache rebuilds the row index from the code column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	rows := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if code := cellCode(row); code != "" {
			rows[code] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = rows
	s.cachedAt = s.now()
	s.cacheMu.Unlock()
	return nil
}

func (s *SheetsService) AppendReservation(ctx context.Context, r *models.Reservation) error {
	if r == nil {
		return errors.New("reservation is nil")
	}

	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:"+lastColumn, &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(r, models.StatusActive)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append record %s: %w", r.RecordCode, err)
	}

	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(r.RecordCode, row)
		}
	}
	return nil
}

// UpdateReservation rewrites the row of previousCode, or appends when it is gone.
func (s *SheetsService) UpdateReservation(ctx context.Context, previousCode string, r *models.Reservation) error {
	if r == nil {
		return errors.New("reservation is nil")
	}
	if previousCode == "" {
		previousCode = r.RecordCode
	}

	row, err := s.FindRow(ctx, previousCode)
	if errors.Is(err, errRowNotFound) {
		return s.AppendReservation(ctx, r)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.sheetName, row, lastColumn, row)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(r, models.StatusUpdated)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update record %s: %w", previousCode, err)
	}

	s.deleteCachedRow(previousCode)
	s.setCachedRow(r.RecordCode, row)
	return nil
}

// MarkCancelled sets the status and update time of the code's row. A missing row is not an error.
func (s *SheetsService) MarkCancelled(ctx context.Context, code string) error {
	row, err := s.FindRow(ctx, code)
	if errors.Is(err, errRowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!%s%d:%s%d", s.sheetName, statusColumn, row, lastColumn, row)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{{models.StatusCancelled, s.now().In(s.loc).Format(dateTimeLayout)}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("cancel record %s: %w", code, err)
	}
	return nil
}

// FindRow locates the 1-based row of code, scanning column A on a cache miss.
func (s *SheetsService) FindRow(ctx context.Context, code string) (int, error) {
	if code == "" {
		return 0, errors.New("record code is required")
	}
	if row, ok := s.getCachedRow(code); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellCode(row) == code {
			s.setCachedRow(code, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

func (s *SheetsService) rowValues(r *models.Reservation, status string) []interface{} {
	start := r.Start.In(s.loc)
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	return []interface{}{
		r.RecordCode,
		r.UserID,
		start.Format("02.01.2006"),
		start.Format("15:04"),
		r.Fields.FullName,
		r.Fields.Gender,
		r.Fields.BirthYear,
		r.Fields.Phone,
		r.Fields.Email,
		r.Fields.Address,
		status,
		updated.In(s.loc).Format(dateTimeLayout),
	}
}

func (s *SheetsService) getCachedRow(code string) (int, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if !s.cachedAt.IsZero() && s.now().Sub(s.cachedAt) > s.cacheTTL {
		s.rowCache = make(map[string]int)
		s.cachedAt = time.Time{}
	}
	row, ok := s.rowCache[code]
	return row, ok
}

func (s *SheetsService) setCachedRow(code string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cachedAt.IsZero() {
		s.cachedAt = s.now()
	}
	s.rowCache[code] = row
}

func (s *SheetsService) deleteCachedRow(code string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, code)
}

// ClearCache clears the row index cache.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
	s.cachedAt = time.Time{}
}

var updatedRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange reads the first row number from an A1 range like "Records!A10:L10".
func rowFromRange(a1 string) (int, bool) {
	m := updatedRowRe.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return row, true
}

func cellCode(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	v, ok := row[0].(string)
	if !ok {
		return ""
	}
	return v
}
