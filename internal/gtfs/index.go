package gtfs

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/rtree"

	"transitsync.dev/internal/models"
)

// staticTables is one read-back of the static tables from the store.
type staticTables struct {
	agencies    []models.Agency
	routes      []models.Route
	stops       []models.Stop
	trips       []models.Trip
	stopTimes   []models.StopTime
	shapePoints []models.ShapePoint
}

// staticIndex is an immutable snapshot of static data and everything derived
// from it. A new one is built for every load and published with a single
// pointer swap.
type staticIndex struct {
	agencies   []models.Agency
	agencyByID map[string]models.Agency
	routes     map[string]models.Route
	stops      map[string]models.Stop
	trips      map[string]models.Trip

	tripsByRoute       map[string][]models.Trip
	stopTimesByTrip    map[string][]models.StopTime
	stopTimesByStop    map[string][]models.StopTime
	stopsByTrip        map[string][]models.Stop
	shapePointsByShape map[string][]models.ShapePoint

	routeSearch []searchEntry
	stopSearch  []searchEntry
	stopTree    rtree.RTreeG[string]
	bounds      *RegionBounds

	counts   map[string]int
	loadedAt time.Time
}

// searchEntry holds the lower-cased words a record can be found by. Entries
// sort by order, then rank, then id.
type searchEntry struct {
	id    string
	words []string
	order int
	rank  string
}

func buildIndex(t staticTables, loadedAt time.Time) *staticIndex {
	idx := &staticIndex{
		agencies:           t.agencies,
		agencyByID:         make(map[string]models.Agency, len(t.agencies)),
		routes:             make(map[string]models.Route, len(t.routes)),
		stops:              make(map[string]models.Stop, len(t.stops)),
		trips:              make(map[string]models.Trip, len(t.trips)),
		tripsByRoute:       make(map[string][]models.Trip),
		stopTimesByTrip:    make(map[string][]models.StopTime),
		stopTimesByStop:    make(map[string][]models.StopTime),
		stopsByTrip:        make(map[string][]models.Stop),
		shapePointsByShape: make(map[string][]models.ShapePoint),
		loadedAt:           loadedAt,
		counts: map[string]int{
			TableAgency:    len(t.agencies),
			TableRoutes:    len(t.routes),
			TableStops:     len(t.stops),
			TableTrips:     len(t.trips),
			TableStopTimes: len(t.stopTimes),
			TableShapes:    len(t.shapePoints),
		},
	}

	for _, a := range t.agencies {
		idx.agencyByID[a.ID] = a
	}

	idx.routeSearch = make([]searchEntry, 0, len(t.routes))
	for _, r := range t.routes {
		idx.routes[r.ID] = r
		idx.routeSearch = append(idx.routeSearch, searchEntry{
			id:    r.ID,
			words: searchWords(r.ShortName, r.LongName, r.ID),
			order: r.SortOrder,
			rank:  strings.ToLower(r.DisplayName()),
		})
	}

	idx.stopSearch = make([]searchEntry, 0, len(t.stops))
	for _, s := range t.stops {
		idx.stops[s.ID] = s
		idx.stopTree.Insert([2]float64{s.Lon, s.Lat}, [2]float64{s.Lon, s.Lat}, s.ID)
		idx.stopSearch = append(idx.stopSearch, searchEntry{
			id:    s.ID,
			words: searchWords(s.Name, s.Code, s.ID),
			rank:  strings.ToLower(s.Name),
		})
	}
	sortSearchEntries(idx.routeSearch)
	sortSearchEntries(idx.stopSearch)

	for _, trip := range t.trips {
		idx.trips[trip.ID] = trip
		idx.tripsByRoute[trip.RouteID] = append(idx.tripsByRoute[trip.RouteID], trip)
	}
	for _, trips := range idx.tripsByRoute {
		sort.SliceStable(trips, func(i, j int) bool {
			if trips[i].DirectionID != trips[j].DirectionID {
				return trips[i].DirectionID < trips[j].DirectionID
			}
			return trips[i].Headsign < trips[j].Headsign
		})
	}

	for _, st := range t.stopTimes {
		idx.stopTimesByTrip[st.TripID] = append(idx.stopTimesByTrip[st.TripID], st)
		idx.stopTimesByStop[st.StopID] = append(idx.stopTimesByStop[st.StopID], st)
	}
	for tripID, sts := range idx.stopTimesByTrip {
		sort.SliceStable(sts, func(i, j int) bool { return sts[i].StopSequence < sts[j].StopSequence })

		stops := make([]models.Stop, 0, len(sts))
		for _, st := range sts {
			// Unresolvable stop references are skipped, not nulled.
			if stop, ok := idx.stops[st.StopID]; ok {
				stops = append(stops, stop)
			}
		}
		idx.stopsByTrip[tripID] = stops
	}

	for _, p := range t.shapePoints {
		idx.shapePointsByShape[p.ShapeID] = append(idx.shapePointsByShape[p.ShapeID], p)
	}
	for _, pts := range idx.shapePointsByShape {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Sequence < pts[j].Sequence })
	}

	idx.bounds = ComputeRegionBounds(idx.shapePointsByShape, t.stops)

	return idx
}

func sortSearchEntries(entries []searchEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].id < entries[j].id
	})
}

// searchWords splits fields into lower-cased words on anything that is not a
// letter or digit.
func searchWords(fields ...string) []string {
	var words []string
	for _, f := range fields {
		words = append(words, strings.FieldsFunc(strings.ToLower(f), isWordSeparator)...)
	}
	return words
}

func isWordSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
}

// buildSearchTerms normalizes user input into lower-cased prefix terms.
func buildSearchTerms(input string) []string {
	return strings.FieldsFunc(strings.ToLower(strings.TrimSpace(input)), isWordSeparator)
}

// matches reports whether every term is a prefix of some word of e.
func (e searchEntry) matches(terms []string) bool {
	for _, term := range terms {
		found := false
		for _, w := range e.words {
			if strings.HasPrefix(w, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func searchIDs(entries []searchEntry, input string, limit int) []string {
	terms := buildSearchTerms(input)
	if len(terms) == 0 {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.matches(terms) {
			ids = append(ids, e.id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids
}
