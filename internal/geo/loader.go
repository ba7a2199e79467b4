package geo

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/sells-group/cropprice/internal/db"
	"github.com/sells-group/cropprice/internal/fetcher"
	"github.com/sells-group/cropprice/internal/model"
)

// DefaultTable is the table read from database reference sources.
const DefaultTable = "reference_locations"

// Source describes where the reference table comes from.
//
// Location is one of: a postgres:// or postgresql:// URL, a sqlite:// path
// or a .db/.sqlite file, an http(s) URL to a file, or a local .csv, .xlsx,
// .json, .shp or .zip file.
type Source struct {
	Location string
	Sheet    string // xlsx sheet name; empty means the first sheet
	Table    string // database table; empty means DefaultTable
	TempDir  string // downloads and extracted archives
	Fetcher  fetcher.Fetcher
}

// Load reads the reference source and freezes it into a Table. A source with
// no valid rows is an error.
func Load(ctx context.Context, src Source) (*Table, error) {
	log := zap.L().With(zap.String("component", "geo.loader"), zap.String("source", src.Location))

	rows, err := loadRows(ctx, src)
	if err != nil {
		return nil, err
	}

	t := NewTable(rows)
	if t.Len() == 0 {
		return nil, eris.Errorf("geo: reference source %s has no valid rows", src.Location)
	}
	log.Info("reference table loaded", zap.Int("locations", t.Len()), zap.Int("rows", len(rows)))
	return t, nil
}

func loadRows(ctx context.Context, src Source) ([]model.ReferenceLocation, error) {
	loc := strings.TrimSpace(src.Location)
	if loc == "" {
		return nil, eris.New("geo: empty reference source")
	}
	table := src.Table
	if table == "" {
		table = DefaultTable
	}

	lower := strings.ToLower(loc)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		pool, err := db.Connect(ctx, loc)
		if err != nil {
			return nil, eris.Wrap(err, "geo: connect reference database")
		}
		defer pool.Close()
		return LoadPostgres(ctx, pool, table)
	case strings.HasPrefix(lower, "sqlite://"):
		return LoadSQLite(ctx, loc[len("sqlite://"):], table)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return loadRemote(ctx, loc, src)
	}

	switch strings.ToLower(filepath.Ext(loc)) {
	case ".db", ".sqlite", ".sqlite3":
		return LoadSQLite(ctx, loc, table)
	}
	return loadFile(ctx, loc, src)
}

func loadRemote(ctx context.Context, rawURL string, src Source) ([]model.ReferenceLocation, error) {
	if src.Fetcher == nil {
		src.Fetcher = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: parse reference url %s", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || filepath.Ext(name) == "" {
		name = "reference.csv"
	}

	dir, err := workDir(src.TempDir, "download")
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(dir, name)
	n, err := src.Fetcher.DownloadToFile(ctx, rawURL, dest)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: download reference table %s", rawURL)
	}
	zap.L().Info("downloaded reference table",
		zap.String("component", "geo.loader"),
		zap.String("url", rawURL),
		zap.Int64("bytes", n),
	)
	return loadFile(ctx, dest, src)
}

func loadFile(ctx context.Context, p string, src Source) ([]model.ReferenceLocation, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv", ".txt":
		f, err := os.Open(p)
		if err != nil {
			return nil, eris.Wrap(err, "geo: open reference csv")
		}
		defer f.Close() //nolint:errcheck
		t, err := fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{LazyQuotes: true})
		if err != nil {
			return nil, eris.Wrapf(err, "geo: read %s", p)
		}
		return tableRows(t)
	case ".xlsx":
		t, err := fetcher.ReadXLSX(p, fetcher.XLSXOptions{SheetName: src.Sheet})
		if err != nil {
			return nil, eris.Wrapf(err, "geo: read %s", p)
		}
		return tableRows(t)
	case ".json":
		return loadJSON(ctx, p)
	case ".shp":
		return LoadShapefile(p)
	case ".zip":
		return loadZIP(ctx, p, src)
	default:
		return nil, eris.Errorf("geo: unsupported reference format %q", p)
	}
}

func loadZIP(ctx context.Context, p string, src Source) ([]model.ReferenceLocation, error) {
	dir, err := workDir(src.TempDir, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
	if err != nil {
		return nil, err
	}
	files, err := fetcher.ExtractZIP(p, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: extract %s", p)
	}
	for _, ext := range []string{".shp", ".csv", ".xlsx", ".json"} {
		if inner, ok := fetcher.FindByExt(files, ext); ok {
			return loadFile(ctx, inner, src)
		}
	}
	return nil, eris.Errorf("geo: no reference table found in %s", p)
}

func workDir(base, name string) (string, error) {
	if base == "" {
		base = filepath.Join(os.TempDir(), "cropprice")
	}
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "geo: create work dir")
	}
	return dir, nil
}

// LoadPostgres reads state, district, latitude and longitude columns from a
// Postgres table.
func LoadPostgres(ctx context.Context, pool db.Pool, table string) ([]model.ReferenceLocation, error) {
	query := fmt.Sprintf(
		"SELECT state, district, latitude::float8, longitude::float8 FROM %s",
		db.Identifier(table).Sanitize(),
	)
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: query %s", table)
	}
	defer rows.Close()

	var out []model.ReferenceLocation
	for rows.Next() {
		var r model.ReferenceLocation
		if err := rows.Scan(&r.State, &r.District, &r.Latitude, &r.Longitude); err != nil {
			return nil, eris.Wrapf(err, "geo: scan %s", table)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "geo: iterate %s", table)
	}
	return out, nil
}

// SavePostgres replaces the contents of a Postgres reference table with the
// given locations, creating the table if needed.
func SavePostgres(ctx context.Context, pool db.Pool, table string, t *Table) (int64, error) {
	if err := ensureTable(ctx, pool, table); err != nil {
		return 0, err
	}
	return db.ReplaceRows(ctx, pool, table, referenceColumns, locationRows(t))
}

// AppendPostgres adds the given locations to a Postgres reference table,
// creating the table if needed.
func AppendPostgres(ctx context.Context, pool db.Pool, table string, t *Table) (int64, error) {
	if err := ensureTable(ctx, pool, table); err != nil {
		return 0, err
	}
	return db.CopyFrom(ctx, pool, table, referenceColumns, locationRows(t))
}

var referenceColumns = []string{"state", "district", "latitude", "longitude"}

func ensureTable(ctx context.Context, pool db.Pool, table string) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		state TEXT NOT NULL,
		district TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL
	)`, db.Identifier(table).Sanitize()))
	if err != nil {
		return eris.Wrapf(err, "geo: create %s", table)
	}
	return nil
}

func locationRows(t *Table) [][]any {
	locs := t.Locations()
	rows := make([][]any, len(locs))
	for i, l := range locs {
		rows[i] = []any{l.State, l.District, l.Latitude, l.Longitude}
	}
	return rows
}

// LoadSQLite reads the reference table from a SQLite database file.
func LoadSQLite(ctx context.Context, dsn, table string) ([]model.ReferenceLocation, error) {
	if _, err := os.Stat(dsn); err != nil {
		return nil, eris.Wrapf(err, "geo: sqlite database %s", dsn)
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open sqlite")
	}
	defer sqlDB.Close() //nolint:errcheck

	query := fmt.Sprintf(
		"SELECT state, district, CAST(latitude AS REAL), CAST(longitude AS REAL) FROM %s",
		db.Identifier(table).Sanitize(),
	)
	rows, err := sqlDB.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: query %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReferenceLocation
	for rows.Next() {
		var (
			r        model.ReferenceLocation
			lat, lon sql.NullFloat64
			state    sql.NullString
		)
		if err := rows.Scan(&state, &r.District, &lat, &lon); err != nil {
			return nil, eris.Wrapf(err, "geo: scan %s", table)
		}
		r.State = state.String
		r.Latitude, r.Longitude = nullFloat(lat), nullFloat(lon)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "geo: iterate %s", table)
	}
	return out, nil
}

func nullFloat(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

// LoadShapefile reads reference locations from a shapefile. Names come from
// the DBF attributes; coordinates come from point geometry, or the bounding
// box centre for polygons.
func LoadShapefile(p string) ([]model.ReferenceLocation, error) {
	reader, err := shp.Open(p)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", p)
	}
	defer func() { _ = reader.Close() }()

	names := make([]string, 0, len(reader.Fields()))
	for _, f := range reader.Fields() {
		names = append(names, strings.TrimRight(f.String(), "\x00"))
	}
	cols := matchColumns(names)
	if cols.district < 0 {
		return nil, eris.Errorf("geo: shapefile %s has no district field", p)
	}

	var out []model.ReferenceLocation
	for reader.Next() {
		_, shape := reader.Shape()
		if shape == nil {
			continue
		}
		r := model.ReferenceLocation{
			District: strings.TrimSpace(reader.Attribute(cols.district)),
		}
		if cols.state >= 0 {
			r.State = strings.TrimSpace(reader.Attribute(cols.state))
		}
		if pt, ok := shape.(*shp.Point); ok {
			r.Longitude, r.Latitude = pt.X, pt.Y
		} else {
			box := shape.BBox()
			r.Longitude = (box.MinX + box.MaxX) / 2
			r.Latitude = (box.MinY + box.MaxY) / 2
		}
		out = append(out, r)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "geo: read shapefile %s", p)
	}
	return out, nil
}

func loadJSON(ctx context.Context, p string) ([]model.ReferenceLocation, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open reference json")
	}
	defer f.Close() //nolint:errcheck

	t, err := fetcher.ReadJSONTable(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read %s", p)
	}
	if len(t.Rows) == 0 {
		return nil, nil
	}
	return tableRows(t)
}

type columns struct {
	state, district, lat, lon int
}

var columnAliases = map[string][]string{
	"state":     {"state", "state_name", "statename", "st_nm"},
	"district":  {"district", "district_name", "districtname", "dist_name", "dtname"},
	"latitude":  {"latitude", "lat"},
	"longitude": {"longitude", "lon", "lng", "long"},
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func matchColumns(header []string) columns {
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if _, dup := index[n]; !dup {
			index[n] = i
		}
	}
	find := func(field string) int {
		for _, alias := range columnAliases[field] {
			if i, ok := index[alias]; ok {
				return i
			}
		}
		return -1
	}
	return columns{
		state:    find("state"),
		district: find("district"),
		lat:      find("latitude"),
		lon:      find("longitude"),
	}
}

// tableRows maps a headed table onto reference rows. Unparseable
// coordinates become NaN so NewTable drops and reports them.
func tableRows(t *fetcher.Table) ([]model.ReferenceLocation, error) {
	cols := matchColumns(t.Header)
	var missing []string
	if cols.state < 0 {
		missing = append(missing, "state")
	}
	if cols.district < 0 {
		missing = append(missing, "district")
	}
	if cols.lat < 0 {
		missing = append(missing, "latitude")
	}
	if cols.lon < 0 {
		missing = append(missing, "longitude")
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("geo: reference table missing columns: %s", strings.Join(missing, ", "))
	}

	out := make([]model.ReferenceLocation, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, model.ReferenceLocation{
			State:     cell(row, cols.state),
			District:  cell(row, cols.district),
			Latitude:  parseCoord(cell(row, cols.lat)),
			Longitude: parseCoord(cell(row, cols.lon)),
		})
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
