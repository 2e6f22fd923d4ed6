package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jet/jet/v2/qrm"
	"github.com/go-jet/jet/v2/sqlite"
	"github.com/google/uuid"

	"proxypool/internal/database/models/model"
	"proxypool/internal/database/models/table"
	"proxypool/internal/logger"
)

const (
	DefaultPageSize = 15
	MaxPageSize     = 100
)

const recordColumns = `unique_id, ip, port, protocol, anonymity, country, region, city, isp, source,
	speed, validated_at, success_count, failed_count, success_ratio, created_at, updated_at`

var orderColumns = map[string]sqlite.Column{
	"unique_id":     table.ProxyIps.UniqueID,
	"ip":            table.ProxyIps.IP,
	"port":          table.ProxyIps.Port,
	"protocol":      table.ProxyIps.Protocol,
	"anonymity":     table.ProxyIps.Anonymity,
	"country":       table.ProxyIps.Country,
	"region":        table.ProxyIps.Region,
	"city":          table.ProxyIps.City,
	"isp":           table.ProxyIps.Isp,
	"speed":         table.ProxyIps.Speed,
	"validated_at":  table.ProxyIps.ValidatedAt,
	"success_count": table.ProxyIps.SuccessCount,
	"failed_count":  table.ProxyIps.FailedCount,
	"success_ratio": table.ProxyIps.SuccessRatio,
	"created_at":    table.ProxyIps.CreatedAt,
	"updated_at":    table.ProxyIps.UpdatedAt,
}

// Service handles database operations for proxies
type Service struct {
	db     *DB
	logger *logger.Logger
}

// NewService creates a new database service
func NewService(db *DB, log *logger.Logger) *Service {
	return &Service{db: db, logger: log.Named("store")}
}

func keyCondition(k Key) sqlite.BoolExpression {
	return table.ProxyIps.IP.EQ(sqlite.String(k.IP)).
		AND(table.ProxyIps.Port.EQ(sqlite.Int(int64(k.Port)))).
		AND(table.ProxyIps.Protocol.EQ(sqlite.String(k.Protocol)))
}

func newUniqueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Add inserts a validated proxy. An existing record with the same key is left
// untouched and Add reports inserted=false.
func (s *Service) Add(ctx context.Context, p NewProxy) (*model.ProxyIps, bool, error) {
	if p.Anonymity != Transparent && p.Anonymity != Elite {
		return nil, false, fmt.Errorf("invalid anonymity %d for %s", p.Anonymity, p.Key)
	}

	now := Now()
	rec := model.ProxyIps{
		UniqueID:     newUniqueID(),
		IP:           p.IP,
		Port:         int32(p.Port),
		Protocol:     p.Protocol,
		Anonymity:    int32(p.Anonymity),
		Source:       p.Source,
		Speed:        int32(p.Speed),
		ValidatedAt:  now,
		SuccessCount: 1,
		FailedCount:  0,
		SuccessRatio: DefaultSuccessRatio,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	stmt := table.ProxyIps.INSERT(
		table.ProxyIps.AllColumns,
	).MODEL(
		rec,
	).ON_CONFLICT(
		table.ProxyIps.IP, table.ProxyIps.Port, table.ProxyIps.Protocol,
	).DO_NOTHING()

	res, err := stmt.ExecContext(ctx, s.db)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert proxy %s: %w", p.Key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert proxy %s: %w", p.Key, err)
	}
	if n == 0 {
		s.logger.Debug().Str("key", p.Key.String()).Msg("proxy already stored, skipping")
		return nil, false, nil
	}

	return &rec, true, nil
}

// FindUnique returns the record for a key or ErrNotFound.
func (s *Service) FindUnique(ctx context.Context, k Key) (*model.ProxyIps, error) {
	stmt := sqlite.SELECT(
		table.ProxyIps.AllColumns,
	).FROM(
		table.ProxyIps,
	).WHERE(
		keyCondition(k),
	)

	return s.queryOne(ctx, stmt)
}

// FindByUniqueID returns the record with the given generated id or ErrNotFound.
func (s *Service) FindByUniqueID(ctx context.Context, id string) (*model.ProxyIps, error) {
	stmt := sqlite.SELECT(
		table.ProxyIps.AllColumns,
	).FROM(
		table.ProxyIps,
	).WHERE(
		table.ProxyIps.UniqueID.EQ(sqlite.String(id)),
	)

	return s.queryOne(ctx, stmt)
}

// Latest returns the most recently validated record or ErrNotFound.
func (s *Service) Latest(ctx context.Context) (*model.ProxyIps, error) {
	stmt := sqlite.SELECT(
		table.ProxyIps.AllColumns,
	).FROM(
		table.ProxyIps,
	).ORDER_BY(
		table.ProxyIps.ValidatedAt.DESC(),
		table.ProxyIps.UniqueID.ASC(),
	).LIMIT(1)

	return s.queryOne(ctx, stmt)
}

func (s *Service) queryOne(ctx context.Context, stmt sqlite.SelectStatement) (*model.ProxyIps, error) {
	var proxy model.ProxyIps
	err := stmt.QueryContext(ctx, s.db, &proxy)
	if err != nil {
		if errors.Is(err, qrm.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get proxy: %w", err)
	}

	return &proxy, nil
}

// List returns one filtered, ordered page of records.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	cond := sqlite.Bool(true)
	if q.Country != "" {
		cond = cond.AND(table.ProxyIps.Country.EQ(sqlite.String(q.Country)))
	}
	if q.ISP != "" {
		cond = cond.AND(table.ProxyIps.Isp.EQ(sqlite.String(q.ISP)))
	}
	if q.Protocol != "" {
		cond = cond.AND(table.ProxyIps.Protocol.EQ(sqlite.String(q.Protocol)))
	}
	if q.Anonymity != 0 {
		cond = cond.AND(table.ProxyIps.Anonymity.EQ(sqlite.Int(int64(q.Anonymity))))
	}

	column, ok := orderColumns[q.OrderBy]
	if q.OrderBy == "" {
		column, ok = table.ProxyIps.ValidatedAt, true
	}
	if !ok {
		return Page{}, fmt.Errorf("%w: cannot order by %q", ErrInvalidQuery, q.OrderBy)
	}

	order := column.DESC()
	switch strings.ToLower(q.OrderRule) {
	case "", "desc":
	case "asc":
		order = column.ASC()
	default:
		return Page{}, fmt.Errorf("%w: invalid order rule %q", ErrInvalidQuery, q.OrderRule)
	}

	countQuery, countArgs := sqlite.SELECT(
		sqlite.COUNT(sqlite.STAR),
	).FROM(
		table.ProxyIps,
	).WHERE(cond).Sql()

	page := Page{Page: q.Page, PageSize: q.PageSize, Items: []model.ProxyIps{}}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("failed to count proxies: %w", err)
	}
	page.LastPage = int((page.Total + int64(q.PageSize) - 1) / int64(q.PageSize))
	if page.LastPage == 0 {
		page.LastPage = 1
	}

	stmt := sqlite.SELECT(
		table.ProxyIps.AllColumns,
	).FROM(
		table.ProxyIps,
	).WHERE(
		cond,
	).ORDER_BY(
		order,
		table.ProxyIps.UniqueID.ASC(),
	).LIMIT(
		int64(q.PageSize),
	).OFFSET(
		int64((q.Page - 1) * q.PageSize),
	)

	if err := stmt.QueryContext(ctx, s.db, &page.Items); err != nil && !errors.Is(err, qrm.ErrNoRows) {
		return Page{}, fmt.Errorf("failed to list proxies: %w", err)
	}

	return page, nil
}

// Update applies an administrative patch to a record.
func (s *Service) Update(ctx context.Context, k Key, p Patch) (*model.ProxyIps, error) {
	if p.Empty() {
		return nil, fmt.Errorf("%w: empty update", ErrInvalidQuery)
	}
	if p.Anonymity != nil && *p.Anonymity != Transparent && *p.Anonymity != Elite {
		return nil, fmt.Errorf("%w: invalid anonymity %d", ErrInvalidQuery, *p.Anonymity)
	}

	rec, err := s.FindUnique(ctx, k)
	if err != nil {
		return nil, err
	}

	if p.Anonymity != nil {
		rec.Anonymity = int32(*p.Anonymity)
	}
	if p.Country != nil {
		rec.Country = *p.Country
	}
	if p.Region != nil {
		rec.Region = *p.Region
	}
	if p.City != nil {
		rec.City = *p.City
	}
	if p.Isp != nil {
		rec.Isp = *p.Isp
	}
	if p.Speed != nil {
		rec.Speed = int32(*p.Speed)
	}
	rec.UpdatedAt = Now()

	stmt := table.ProxyIps.UPDATE(
		table.ProxyIps.Anonymity,
		table.ProxyIps.Country,
		table.ProxyIps.Region,
		table.ProxyIps.City,
		table.ProxyIps.Isp,
		table.ProxyIps.Speed,
		table.ProxyIps.UpdatedAt,
	).MODEL(
		rec,
	).WHERE(
		keyCondition(k),
	)

	if _, err := stmt.ExecContext(ctx, s.db); err != nil {
		return nil, fmt.Errorf("failed to update proxy %s: %w", k, err)
	}

	return rec, nil
}

// SaveStats writes the health fields of rec back to the store.
func (s *Service) SaveStats(ctx context.Context, rec *model.ProxyIps) error {
	stmt := table.ProxyIps.UPDATE(
		table.ProxyIps.Speed,
		table.ProxyIps.ValidatedAt,
		table.ProxyIps.SuccessCount,
		table.ProxyIps.FailedCount,
		table.ProxyIps.SuccessRatio,
		table.ProxyIps.UpdatedAt,
	).MODEL(
		rec,
	).WHERE(
		keyCondition(KeyOf(rec)),
	)

	res, err := stmt.ExecContext(ctx, s.db)
	if err != nil {
		return fmt.Errorf("failed to save stats for %s: %w", KeyOf(rec), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record. Deleting a missing record returns ErrNotFound.
func (s *Service) Delete(ctx context.Context, k Key) error {
	stmt := table.ProxyIps.DELETE().WHERE(keyCondition(k))

	res, err := stmt.ExecContext(ctx, s.db)
	if err != nil {
		return fmt.Errorf("failed to delete proxy %s: %w", k, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLocation stores the non-empty fields of loc and touches updated_at, also
// when loc is empty.
func (s *Service) SetLocation(ctx context.Context, k Key, loc Location) error {
	query := `
		UPDATE proxy_ips
		SET country = COALESCE(NULLIF(?, ''), country),
		    region = COALESCE(NULLIF(?, ''), region),
		    city = COALESCE(NULLIF(?, ''), city),
		    isp = COALESCE(NULLIF(?, ''), isp),
		    updated_at = ?
		WHERE ip = ? AND port = ? AND protocol = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		loc.Country, loc.Region, loc.City, loc.Isp, Now(),
		k.IP, k.Port, k.Protocol,
	)
	if err != nil {
		return fmt.Errorf("failed to set location for %s: %w", k, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MissingLocation returns up to limit records with any empty location field,
// least recently updated first. Every lookup touches updated_at, so records
// that never resolve rotate to the back.
func (s *Service) MissingLocation(ctx context.Context, limit int) ([]model.ProxyIps, error) {
	empty := sqlite.String("")
	stmt := sqlite.SELECT(
		table.ProxyIps.AllColumns,
	).FROM(
		table.ProxyIps,
	).WHERE(
		table.ProxyIps.Country.EQ(empty).
			OR(table.ProxyIps.Region.EQ(empty)).
			OR(table.ProxyIps.City.EQ(empty)).
			OR(table.ProxyIps.Isp.EQ(empty)),
	).ORDER_BY(
		table.ProxyIps.UpdatedAt.ASC(),
		table.ProxyIps.CreatedAt.ASC(),
	).LIMIT(int64(limit))

	var proxies []model.ProxyIps
	if err := stmt.QueryContext(ctx, s.db, &proxies); err != nil && !errors.Is(err, qrm.ErrNoRows) {
		return nil, fmt.Errorf("failed to get proxies missing location: %w", err)
	}
	return proxies, nil
}

// SweepPage returns the next page of records ordered by validated_at
// ascending, starting after the cursor position.
func (s *Service) SweepPage(ctx context.Context, cur SweepCursor, limit int) ([]model.ProxyIps, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM proxy_ips
		WHERE validated_at <= ?
		  AND (validated_at > ? OR (validated_at = ? AND unique_id > ?))
		ORDER BY validated_at ASC, unique_id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, cur.Until, cur.AfterAt, cur.AfterAt, cur.AfterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep page: %w", err)
	}
	defer rows.Close()

	var proxies []model.ProxyIps
	for rows.Next() {
		p, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}

	return proxies, rows.Err()
}

func scanRecord(rows *sql.Rows) (model.ProxyIps, error) {
	var p model.ProxyIps
	err := rows.Scan(
		&p.UniqueID, &p.IP, &p.Port, &p.Protocol, &p.Anonymity,
		&p.Country, &p.Region, &p.City, &p.Isp, &p.Source,
		&p.Speed, &p.ValidatedAt, &p.SuccessCount, &p.FailedCount, &p.SuccessRatio,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan proxy: %w", err)
	}
	return p, nil
}

// Countries returns the distinct non-empty countries in the store.
func (s *Service) Countries(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "country")
}

// ISPs returns the distinct non-empty ISPs in the store.
func (s *Service) ISPs(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "isp")
}

func (s *Service) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM proxy_ips WHERE %[1]s != '' ORDER BY %[1]s`, column)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", column, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Stats returns statistics about the proxy database
func (s *Service) Stats(ctx context.Context) (ProxyStats, error) {
	stats := ProxyStats{
		ByProtocol: make(map[string]int),
		ByAnon:     make(map[int]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN country != '' AND region != '' AND city != '' AND isp != '' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(speed), 0)
		FROM proxy_ips`).Scan(&stats.Total, &stats.Located, &stats.AvgSpeedMs)
	if err != nil {
		return stats, fmt.Errorf("failed to count proxies: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT protocol, COUNT(*) FROM proxy_ips GROUP BY protocol")
	if err != nil {
		return stats, fmt.Errorf("failed to get proxy protocols: %w", err)
	}
	for rows.Next() {
		var protocol string
		var count int
		if err := rows.Scan(&protocol, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("failed to scan protocol row: %w", err)
		}
		stats.ByProtocol[protocol] = count
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT anonymity, COUNT(*) FROM proxy_ips GROUP BY anonymity")
	if err != nil {
		return stats, fmt.Errorf("failed to get proxy anonymity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var anon, count int
		if err := rows.Scan(&anon, &count); err != nil {
			return stats, fmt.Errorf("failed to scan anonymity row: %w", err)
		}
		stats.ByAnon[anon] = count
	}

	return stats, rows.Err()
}
