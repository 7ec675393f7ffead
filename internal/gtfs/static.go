package gtfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/models"
)

const maxStaticSize = 200 * 1024 * 1024

// LoadResult reports the rows per table that were durably stored and read
// back by a load.
type LoadResult struct {
	Counts   map[string]int
	Duration time.Duration
	// Unchanged is set when the archive matched the last import and nothing
	// was written.
	Unchanged bool
}

func rawGtfsData(ctx context.Context, source string, isLocalFile bool, config Config) ([]byte, models.StaticVersion, error) {
	var version models.StaticVersion
	if isLocalFile {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, version, fmt.Errorf("error reading local GTFS file: %w", err)
		}
		return b, version, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, version, fmt.Errorf("error creating GTFS request: %w", err)
	}

	if config.StaticAuthHeaderKey != "" && config.StaticAuthHeaderValue != "" {
		req.Header.Set(config.StaticAuthHeaderKey, config.StaticAuthHeaderValue)
	}

	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}

	resp, err := client.Do(req)
	if err != nil {
		return nil, version, &models.NetworkError{URL: source, Err: err}
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "gtfs_downloader")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, version, &models.NetworkError{URL: source, Err: fmt.Errorf("received HTTP status %s", resp.Status)}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticSize+1))
	if err != nil {
		return nil, version, fmt.Errorf("error reading GTFS data: %w", err)
	}
	if int64(len(b)) > maxStaticSize {
		return nil, version, fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticSize)
	}
	version.ETag = resp.Header.Get("ETag")
	version.LastModified = resp.Header.Get("Last-Modified")
	return b, version, nil
}

// Load writes every table of r to the store in one transaction, reads the
// tables back and publishes a new index built from the read-back. On any
// error the store is rolled back and the previous index stays in place.
func (manager *Manager) Load(ctx context.Context, r StaticArchiveReader) (LoadResult, error) {
	manager.staticUpdateMutex.Lock()
	defer manager.staticUpdateMutex.Unlock()
	return manager.load(ctx, r, nil)
}

func (manager *Manager) load(ctx context.Context, r StaticArchiveReader, meta *gtfsdb.UpsertImportMetadataParams) (LoadResult, error) {
	start := manager.clock.Now()

	for _, table := range requiredTables {
		if !r.HasTable(table) {
			err := missingTableError(table)
			logging.LogError(manager.logger, "Static load aborted", err)
			return LoadResult{}, err
		}
	}

	err := manager.GtfsDB.RunInTransaction(ctx, "static_load", func(q *gtfsdb.Queries) error {
		if err := q.ClearStaticData(ctx); err != nil {
			return fmt.Errorf("clear static data: %w", err)
		}
		if err := writeStaticTables(ctx, q, r, manager.GtfsDB.BatchSize()); err != nil {
			return err
		}
		if meta != nil {
			if err := q.UpsertImportMetadata(ctx, *meta); err != nil {
				return fmt.Errorf("record import metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logging.LogError(manager.logger, "Static load rolled back", err)
		return LoadResult{}, err
	}

	idx, err := manager.readBack(ctx)
	if err != nil {
		manager.forgetImport(ctx, err)
		return LoadResult{}, err
	}
	manager.swap(idx)

	result := LoadResult{
		Counts:   manager.Counts(),
		Duration: manager.clock.Since(start),
	}
	logging.LogOperation(manager.logger, "static_load_completed",
		slog.Duration("duration", result.Duration),
		slog.Int("routes", result.Counts[TableRoutes]),
		slog.Int("stops", result.Counts[TableStops]),
		slog.Int("trips", result.Counts[TableTrips]),
		slog.Int("stop_times", result.Counts[TableStopTimes]))
	return result, nil
}

// writeStaticTables streams each table into the store with chunked INSERTs.
func writeStaticTables(ctx context.Context, q *gtfsdb.Queries, r StaticArchiveReader, batchSize int) error {
	type tableWriter struct {
		table   string
		columns []string
		each    func(add func(values ...interface{}) error) error
	}

	writers := []tableWriter{
		{"agencies", []string{"id", "name", "url", "timezone", "lang", "phone"},
			func(add func(...interface{}) error) error {
				return r.EachAgency(func(a models.Agency) error {
					return add(a.ID, a.Name, a.URL, a.Timezone, gtfsdb.ToNullString(a.Lang), gtfsdb.ToNullString(a.Phone))
				})
			}},
		{"routes", []string{"id", "agency_id", "short_name", "long_name", "type", "color", "text_color", "sort_order"},
			func(add func(...interface{}) error) error {
				return r.EachRoute(func(rt models.Route) error {
					return add(rt.ID, rt.AgencyID, gtfsdb.ToNullString(rt.ShortName), gtfsdb.ToNullString(rt.LongName),
						int64(rt.Type), gtfsdb.ToNullString(rt.Color), gtfsdb.ToNullString(rt.TextColor), int64(rt.SortOrder))
				})
			}},
		{"stops", []string{"id", "code", "name", "lat", "lon", "parent_station", "location_type"},
			func(add func(...interface{}) error) error {
				return r.EachStop(func(s models.Stop) error {
					return add(s.ID, gtfsdb.ToNullString(s.Code), gtfsdb.ToNullString(s.Name), s.Lat, s.Lon,
						gtfsdb.ToNullString(s.ParentStation), int64(s.LocationType))
				})
			}},
		{"trips", []string{"id", "route_id", "service_id", "headsign", "direction_id", "shape_id", "block_id"},
			func(add func(...interface{}) error) error {
				return r.EachTrip(func(t models.Trip) error {
					return add(t.ID, t.RouteID, t.ServiceID, gtfsdb.ToNullString(t.Headsign), int64(t.DirectionID),
						gtfsdb.ToNullString(t.ShapeID), gtfsdb.ToNullString(t.BlockID))
				})
			}},
		{"stop_times", []string{"trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time"},
			func(add func(...interface{}) error) error {
				return r.EachStopTime(func(st models.StopTime) error {
					return add(st.TripID, st.StopID, int64(st.StopSequence),
						int64(st.ArrivalTime/time.Second), int64(st.DepartureTime/time.Second))
				})
			}},
		{"shapes", []string{"shape_id", "lat", "lon", "shape_pt_sequence"},
			func(add func(...interface{}) error) error {
				return r.EachShapePoint(func(p models.ShapePoint) error {
					return add(p.ShapeID, p.Lat, p.Lon, int64(p.Sequence))
				})
			}},
	}

	for _, w := range writers {
		bi, err := q.NewBatchInserter(w.table, w.columns, batchSize)
		if err != nil {
			return err
		}
		err = w.each(func(values ...interface{}) error {
			return bi.Add(ctx, values...)
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", w.table, err)
		}
		if err := bi.Close(ctx); err != nil {
			return fmt.Errorf("write %s: %w", w.table, err)
		}
	}
	return nil
}

// readBack loads every static table from the store and builds an index.
func (manager *Manager) readBack(ctx context.Context) (*staticIndex, error) {
	var t staticTables
	err := manager.GtfsDB.Read(ctx, "static_read_back", func(q *gtfsdb.Queries) error {
		agencies, err := q.ListAgencies(ctx)
		if err != nil {
			return fmt.Errorf("agencies: %w", err)
		}
		for _, a := range agencies {
			t.agencies = append(t.agencies, agencyFromRow(a))
		}

		routes, err := q.ListRoutes(ctx)
		if err != nil {
			return fmt.Errorf("routes: %w", err)
		}
		for _, r := range routes {
			t.routes = append(t.routes, routeFromRow(r))
		}

		stops, err := q.ListStops(ctx)
		if err != nil {
			return fmt.Errorf("stops: %w", err)
		}
		for _, s := range stops {
			t.stops = append(t.stops, stopFromRow(s))
		}

		trips, err := q.ListTrips(ctx)
		if err != nil {
			return fmt.Errorf("trips: %w", err)
		}
		for _, tr := range trips {
			t.trips = append(t.trips, tripFromRow(tr))
		}

		err = q.EachStopTime(ctx, func(st gtfsdb.StopTime) error {
			t.stopTimes = append(t.stopTimes, models.StopTime{
				TripID:        st.TripID,
				StopID:        st.StopID,
				StopSequence:  int(st.StopSequence),
				ArrivalTime:   time.Duration(st.ArrivalTime) * time.Second,
				DepartureTime: time.Duration(st.DepartureTime) * time.Second,
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("stop_times: %w", err)
		}

		return q.EachShapePoint(ctx, func(p gtfsdb.Shape) error {
			t.shapePoints = append(t.shapePoints, models.ShapePoint{
				ShapeID:  p.ShapeID,
				Lat:      p.Lat,
				Lon:      p.Lon,
				Sequence: int(p.ShapePtSequence),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return buildIndex(t, manager.clock.Now()), nil
}

// Rebuild publishes an index of what the store currently holds, without
// loading anything.
func (manager *Manager) Rebuild(ctx context.Context) error {
	manager.staticUpdateMutex.Lock()
	defer manager.staticUpdateMutex.Unlock()

	idx, err := manager.readBack(ctx)
	if err != nil {
		return err
	}
	manager.swap(idx)
	logging.LogOperation(manager.logger, "static_index_rebuilt",
		slog.Int("trips", idx.counts[TableTrips]))
	return nil
}

// ForceUpdate downloads or reads the configured source and loads it. An
// archive identical to the last import is not written again.
func (manager *Manager) ForceUpdate(ctx context.Context) error {
	manager.staticUpdateMutex.Lock()
	defer manager.staticUpdateMutex.Unlock()

	source := manager.config.GtfsURL
	logger := manager.logger.With(slog.String("source", source))

	b, version, err := rawGtfsData(ctx, source, manager.isLocalFile, manager.config)
	if err != nil {
		logging.LogError(logger, "Error reading GTFS data", err)
		return err
	}
	manager.lastDownload = manager.clock.Now()

	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])

	existing, ok, err := manager.GtfsDB.ImportMetadata(ctx)
	if err != nil {
		return err
	}
	if ok && existing.FileHash == hashStr && existing.FileSource == source {
		logging.LogOperation(logger, "gtfs_data_unchanged_skipping_import",
			slog.String("hash", hashStr[:8]))
		if existing.Etag != version.ETag || existing.LastModified != version.LastModified {
			err := manager.GtfsDB.RunInTransaction(ctx, "update_import_validators", func(q *gtfsdb.Queries) error {
				return q.UpdateImportValidators(ctx, gtfsdb.UpdateImportValidatorsParams{
					Etag:         version.ETag,
					LastModified: version.LastModified,
				})
			})
			if err != nil {
				return err
			}
		}
		if manager.current() != nil {
			manager.MarkHealthy()
			return nil
		}
		idx, err := manager.readBack(ctx)
		if err != nil {
			return err
		}
		manager.swap(idx)
		return nil
	}

	reader, err := NewArchiveReader(b)
	if err != nil {
		logging.LogError(logger, "Error parsing GTFS data", err)
		return err
	}
	if reader.Warnings() > 0 {
		logging.LogWarning(logger, "GTFS parser reported warnings", slog.Int("warnings", reader.Warnings()))
	}

	_, err = manager.load(ctx, reader, &gtfsdb.UpsertImportMetadataParams{
		FileHash:     hashStr,
		ImportTime:   manager.clock.Now().Unix(),
		FileSource:   source,
		Etag:         version.ETag,
		LastModified: version.LastModified,
	})
	return err
}

// forgetImport runs when a load committed but its read-back failed: the store
// holds the new archive while readers still see the old index. Dropping the
// import record makes the next update write the archive again instead of
// skipping it as unchanged.
func (manager *Manager) forgetImport(ctx context.Context, cause error) {
	manager.MarkUnhealthy()
	logging.LogError(manager.logger, "Static load committed but could not be published", cause)

	ctx = context.WithoutCancel(ctx)
	err := manager.GtfsDB.RunInTransaction(ctx, "delete_import_metadata", func(q *gtfsdb.Queries) error {
		return q.DeleteImportMetadata(ctx)
	})
	if err != nil {
		logging.LogError(manager.logger, "Failed to drop import metadata", err)
	}
}

// updateStaticGTFS asks once per check interval whether the static source
// changed and reloads it when it did.
func (manager *Manager) updateStaticGTFS() {
	defer manager.wg.Done()

	logger := slog.Default().With(slog.String("component", "gtfs_static_updater"))

	ticker := time.NewTicker(manager.config.staticCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			err := manager.checkForStaticUpdate(ctx)
			cancel()
			if err != nil {
				logging.LogError(logger, "Error updating GTFS data", err,
					slog.String("source", manager.config.GtfsURL))
			}
		case <-manager.shutdownChan:
			logging.LogOperation(logger, "shutting_down_static_gtfs_updates")
			return
		}
	}
}

func (manager *Manager) checkForStaticUpdate(ctx context.Context) error {
	if manager.updateChecker != nil {
		known, err := manager.importedVersion(ctx)
		if err != nil {
			return err
		}
		available, err := manager.updateChecker.IsStaticUpdateAvailable(ctx, manager.config.GtfsURL, known, manager.config.staticMaxAge())
		if err != nil {
			return err
		}
		if !available {
			logging.LogOperation(manager.logger, "static_update_not_available")
			return nil
		}
	}
	if err := manager.ForceUpdate(ctx); err != nil {
		// Readers keep the previous snapshot, which is now known to be stale.
		manager.MarkUnhealthy()
		return err
	}
	return nil
}

// importedVersion describes the archive behind the current import. Validators
// come from the store so that a failed download is never taken as seen.
func (manager *Manager) importedVersion(ctx context.Context) (models.StaticVersion, error) {
	manager.staticUpdateMutex.Lock()
	lastDownload := manager.lastDownload
	manager.staticUpdateMutex.Unlock()

	meta, _, err := manager.GtfsDB.ImportMetadata(ctx)
	if err != nil {
		return models.StaticVersion{}, err
	}
	return models.StaticVersion{
		ETag:         meta.Etag,
		LastModified: meta.LastModified,
		Downloaded:   lastDownload,
	}, nil
}

func agencyFromRow(a gtfsdb.Agency) models.Agency {
	return models.Agency{
		ID:       a.ID,
		Name:     a.Name,
		URL:      a.Url,
		Timezone: a.Timezone,
		Lang:     a.Lang.String,
		Phone:    a.Phone.String,
	}
}

func routeFromRow(r gtfsdb.Route) models.Route {
	return models.Route{
		ID:        r.ID,
		AgencyID:  r.AgencyID,
		ShortName: r.ShortName.String,
		LongName:  r.LongName.String,
		Type:      models.RouteType(r.Type),
		Color:     r.Color.String,
		TextColor: r.TextColor.String,
		SortOrder: int(r.SortOrder.Int64),
	}
}

func stopFromRow(s gtfsdb.Stop) models.Stop {
	return models.Stop{
		ID:            s.ID,
		Code:          s.Code.String,
		Name:          s.Name.String,
		Lat:           s.Lat,
		Lon:           s.Lon,
		ParentStation: s.ParentStation.String,
		LocationType:  int(s.LocationType.Int64),
	}
}

func tripFromRow(t gtfsdb.Trip) models.Trip {
	return models.Trip{
		ID:          t.ID,
		RouteID:     t.RouteID,
		ServiceID:   t.ServiceID,
		Headsign:    t.Headsign.String,
		DirectionID: int(t.DirectionID.Int64),
		ShapeID:     t.ShapeID.String,
		BlockID:     t.BlockID.String,
	}
}
