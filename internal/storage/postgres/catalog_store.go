package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

const albumsTable = "albums"

var albumColumns = []string{
	"id",
	"distributor_code",
	"sku",
	"band_name",
	"name",
	"raw_name",
	"price",
	"media",
	"image_paths",
	"image_source_urls",
	"purchase_url",
	"COALESCE(release_date, " + zeroTime + ")",
	"genre",
	"label",
	"press",
	"description",
	"status",
	"parsing_session_id",
	"processed_status",
	"created_date",
	"last_update_date",
	"last_checked_date",
	"COALESCE(last_published_date, " + zeroTime + ")",
}

// CatalogStore implements catalog.CatalogStore on the albums table.
type CatalogStore struct {
	db DB
}

// NewCatalogStore wraps db.
func NewCatalogStore(db DB) (*CatalogStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &CatalogStore{db: db}, nil
}

// Get returns an entry by id.
func (s *CatalogStore) Get(ctx context.Context, id string) (catalog.AlbumProcessedEntity, error) {
	return s.selectOne(ctx, "album/"+id, sq.Eq{"id": id})
}

// FindByKey returns the entry for (code, sku).
func (s *CatalogStore) FindByKey(ctx context.Context, code catalog.DistributorCode, sku string) (catalog.AlbumProcessedEntity, error) {
	return s.selectOne(ctx, fmt.Sprintf("album/%d/%s", code, sku), sq.Eq{"distributor_code": int(code), "sku": sku})
}

// Add inserts an entry. A taken (distributor, sku) key is an IOFailure.
func (s *CatalogStore) Add(ctx context.Context, e catalog.AlbumProcessedEntity) error {
	query, args, err := psql.Insert(albumsTable).
		Columns(
			"id", "distributor_code", "sku", "band_name", "name", "raw_name", "price", "media",
			"image_paths", "image_source_urls", "purchase_url", "release_date", "genre", "label",
			"press", "description", "status", "parsing_session_id", "processed_status",
			"created_date", "last_update_date", "last_checked_date", "last_published_date",
		).
		Values(
			e.ID, int(e.DistributorCode), e.SKU, e.BandName, e.Name, e.RawName, e.Price, string(e.Media),
			stringsOrEmpty(e.ImagePaths), stringsOrEmpty(e.ImageSourceURLs), e.PurchaseURL, nullable(e.ReleaseDate),
			e.Genre, e.Label, e.Press, e.Description, string(e.Status), e.ParsingSessionID,
			string(e.ProcessedStatus), e.CreatedDate, e.LastUpdateDate, e.LastCheckedDate,
			nullablePtr(e.LastPublishedDate),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		path := fmt.Sprintf("album/%d/%s", e.DistributorCode, e.SKU)
		if isUniqueViolation(err) {
			return &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: errors.New("duplicate catalog key")}
		}
		return storageErr(path, err)
	}
	return nil
}

// Update replaces the mutable columns of an existing entry.
func (s *CatalogStore) Update(ctx context.Context, e catalog.AlbumProcessedEntity) error {
	query, args, err := psql.Update(albumsTable).
		SetMap(map[string]any{
			"band_name":           e.BandName,
			"name":                e.Name,
			"raw_name":            e.RawName,
			"price":               e.Price,
			"media":               string(e.Media),
			"image_paths":         stringsOrEmpty(e.ImagePaths),
			"image_source_urls":   stringsOrEmpty(e.ImageSourceURLs),
			"purchase_url":        e.PurchaseURL,
			"release_date":        nullable(e.ReleaseDate),
			"genre":               e.Genre,
			"label":               e.Label,
			"press":               e.Press,
			"description":         e.Description,
			"status":              string(e.Status),
			"parsing_session_id":  e.ParsingSessionID,
			"processed_status":    string(e.ProcessedStatus),
			"last_update_date":    e.LastUpdateDate,
			"last_checked_date":   e.LastCheckedDate,
			"last_published_date": nullablePtr(e.LastPublishedDate),
		}).
		Where(sq.Eq{"id": e.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return storageErr("album/"+e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "album/" + e.ID}
	}
	return nil
}

// Delete removes an entry by id.
func (s *CatalogStore) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete(albumsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return storageErr("album/"+id, err)
	}
	if tag.RowsAffected() == 0 {
		return &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "album/" + id}
	}
	return nil
}

// ListByDistributor returns all entries of code ordered by sku.
func (s *CatalogStore) ListByDistributor(ctx context.Context, code catalog.DistributorCode) ([]catalog.AlbumProcessedEntity, error) {
	query, args, err := psql.Select(albumColumns...).
		From(albumsTable).
		Where(sq.Eq{"distributor_code": int(code)}).
		OrderBy("sku").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	path := fmt.Sprintf("album/%d", code)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(path, err)
	}
	defer rows.Close()

	out := make([]catalog.AlbumProcessedEntity, 0)
	for rows.Next() {
		e, err := scanAlbum(rows)
		if err != nil {
			return nil, storageErr(path, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(path, err)
	}
	return out, nil
}

func (s *CatalogStore) selectOne(ctx context.Context, path string, where sq.Eq) (catalog.AlbumProcessedEntity, error) {
	query, args, err := psql.Select(albumColumns...).From(albumsTable).Where(where).ToSql()
	if err != nil {
		return catalog.AlbumProcessedEntity{}, fmt.Errorf("build select: %w", err)
	}
	e, err := scanAlbum(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return catalog.AlbumProcessedEntity{}, storageErr(path, err)
	}
	return e, nil
}

func scanAlbum(row pgx.Row) (catalog.AlbumProcessedEntity, error) {
	var (
		e                        catalog.AlbumProcessedEntity
		code                     int
		media, status, processed string
		published                time.Time
	)
	err := row.Scan(
		&e.ID, &code, &e.SKU, &e.BandName, &e.Name, &e.RawName, &e.Price, &media,
		&e.ImagePaths, &e.ImageSourceURLs, &e.PurchaseURL, &e.ReleaseDate, &e.Genre, &e.Label,
		&e.Press, &e.Description, &status, &e.ParsingSessionID, &processed,
		&e.CreatedDate, &e.LastUpdateDate, &e.LastCheckedDate, &published,
	)
	if err != nil {
		return catalog.AlbumProcessedEntity{}, err
	}
	e.DistributorCode = catalog.DistributorCode(code)
	e.Media = catalog.MediaType(media)
	e.Status = catalog.AlbumStatus(status)
	e.ProcessedStatus = catalog.ProcessedStatus(processed)
	if e.ReleaseDate.IsZero() {
		e.ReleaseDate = time.Time{}
	}
	e.LastPublishedDate = timePtr(published)
	return e, nil
}

func stringsOrEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
