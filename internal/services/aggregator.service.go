package services

import (
	"sort"
	"strconv"
	"time"

	"trafficwatch/internal/models"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxTrendPoints keeps one point per minute for 24 hours
	MaxTrendPoints = 1440

	dateLayout      = "2006-01-02"
	trendTimeLayout = "15:04"
	trendFullLayout = "2006-01-02 15:04"
)

// minuteBucket accumulates per-tick speeds for one wall-clock minute
type minuteBucket struct {
	minute time.Time
	up     float64
	down   float64
	count  int
}

// Aggregator folds per-port deltas into speed, daily, all-time and per-minute
// trend statistics. Like DeltaAccumulator it relies on the engine's lock.
type Aggregator struct {
	interval  time.Duration
	maxPoints int

	daily   map[string]map[int]*models.StatRecord
	total   map[int]*models.StatRecord
	series  map[int][]models.TrendPoint
	buckets map[int]*minuteBucket
}

func NewAggregator(interval time.Duration) *Aggregator {
	return &Aggregator{
		interval:  interval,
		maxPoints: MaxTrendPoints,
		daily:     map[string]map[int]*models.StatRecord{},
		total:     map[int]*models.StatRecord{},
		series:    map[int][]models.TrendPoint{},
		buckets:   map[int]*minuteBucket{},
	}
}

// Apply accounts one tick of traffic for port and returns the instantaneous
// speeds in bytes per second.
func (g *Aggregator) Apply(now time.Time, port int, up, down uint64) (float64, float64) {
	daily := g.dailyRecord(now, port)
	total := g.totalRecord(port)

	seconds := g.interval.Seconds()
	speedUp := float64(up) / seconds
	speedDown := float64(down) / seconds

	// Online means transferring, not merely connected.
	if up > 0 || down > 0 {
		daily.OnlineSeconds += seconds
		total.OnlineSeconds += seconds
	}

	daily.Upload += up
	daily.Download += down
	total.Upload += up
	total.Download += down

	g.updateBucket(now, port, speedUp, speedDown)

	return speedUp, speedDown
}

// updateBucket adds the tick's speeds to the port's minute bucket and, once the
// tick lands in a different minute, flushes the bucket average as a trend
// point. Whole truncated timestamps are compared so a pause of exactly one
// hour still flushes.
func (g *Aggregator) updateBucket(now time.Time, port int, speedUp, speedDown float64) {
	minute := now.Truncate(time.Minute)
	bucket, ok := g.buckets[port]
	if !ok {
		bucket = &minuteBucket{minute: minute}
		g.buckets[port] = bucket
	}

	bucket.up += speedUp
	bucket.down += speedDown
	bucket.count++

	if minute.Equal(bucket.minute) {
		return
	}

	if bucket.count > 0 {
		n := float64(bucket.count)
		g.appendPoint(port, models.TrendPoint{
			Time:     bucket.minute.Format(trendTimeLayout),
			Up:       bucket.up / n,
			Down:     bucket.down / n,
			FullTime: bucket.minute.Format(trendFullLayout),
		})
	}
	g.buckets[port] = &minuteBucket{minute: minute}
}

func (g *Aggregator) appendPoint(port int, point models.TrendPoint) {
	series := append(g.series[port], point)
	if len(series) > g.maxPoints {
		series = series[len(series)-g.maxPoints:]
	}
	g.series[port] = series
}

func (g *Aggregator) dailyRecord(now time.Time, port int) *models.StatRecord {
	date := now.Format(dateLayout)
	day, ok := g.daily[date]
	if !ok {
		day = map[int]*models.StatRecord{}
		g.daily[date] = day
	}
	rec, ok := day[port]
	if !ok {
		rec = &models.StatRecord{}
		day[port] = rec
	}
	return rec
}

func (g *Aggregator) totalRecord(port int) *models.StatRecord {
	rec, ok := g.total[port]
	if !ok {
		rec = &models.StatRecord{}
		g.total[port] = rec
	}
	return rec
}

// TrackPort makes sure a newly monitored port has an (empty) trend series
func (g *Aggregator) TrackPort(port int) {
	if _, ok := g.series[port]; !ok {
		g.series[port] = []models.TrendPoint{}
	}
}

// ForgetPort discards the transient minute bucket of an unmonitored port.
// Accumulated history stays.
func (g *Aggregator) ForgetPort(port int) {
	delete(g.buckets, port)
}

// Reset zeroes today's and the all-time record of port and clears its trend.
func (g *Aggregator) Reset(now time.Time, port int) {
	if day, ok := g.daily[now.Format(dateLayout)]; ok {
		if _, ok := day[port]; ok {
			day[port] = &models.StatRecord{}
		}
	}
	if _, ok := g.total[port]; ok {
		g.total[port] = &models.StatRecord{}
	}
	g.series[port] = []models.TrendPoint{}
	delete(g.buckets, port)
}

// Today returns the current day's record, zero if none exists yet
func (g *Aggregator) Today(now time.Time, port int) models.StatRecord {
	if day, ok := g.daily[now.Format(dateLayout)]; ok {
		if rec, ok := day[port]; ok {
			return *rec
		}
	}
	return models.StatRecord{}
}

func (g *Aggregator) Total(port int) models.StatRecord {
	if rec, ok := g.total[port]; ok {
		return *rec
	}
	return models.StatRecord{}
}

// Series returns a copy of the port's trend, oldest first
func (g *Aggregator) Series(port int) []models.TrendPoint {
	out := make([]models.TrendPoint, len(g.series[port]))
	copy(out, g.series[port])
	return out
}

// History returns every daily record of port keyed by date
func (g *Aggregator) History(port int) map[string]models.StatRecord {
	out := map[string]models.StatRecord{}
	for date, day := range g.daily {
		if rec, ok := day[port]; ok {
			out[date] = *rec
		}
	}
	return out
}

// DailyRecords returns the port's daily records, newest date first
func (g *Aggregator) DailyRecords(port int) []models.DailyRecord {
	history := g.History(port)
	records := make([]models.DailyRecord, 0, len(history))
	for date, rec := range history {
		records = append(records, models.DailyRecord{Date: date, StatRecord: rec})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date > records[j].Date })
	return records
}

// Export copies the persistent part of the aggregator into snap
func (g *Aggregator) Export(snap *models.Snapshot) {
	snap.DailyStats = make(map[string]map[string]models.StatRecord, len(g.daily))
	for date, day := range g.daily {
		out := make(map[string]models.StatRecord, len(day))
		for port, rec := range day {
			out[strconv.Itoa(port)] = *rec
		}
		snap.DailyStats[date] = out
	}

	snap.TotalStats = make(map[string]models.StatRecord, len(g.total))
	for port, rec := range g.total {
		snap.TotalStats[strconv.Itoa(port)] = *rec
	}

	snap.TrafficSeries = make(map[string][]models.TrendPoint, len(g.series))
	for port := range g.series {
		snap.TrafficSeries[strconv.Itoa(port)] = g.Series(port)
	}
}

// Restore loads daily, total and trend state from snap. Entries whose port key
// is not a number are skipped.
func (g *Aggregator) Restore(snap *models.Snapshot) {
	g.daily = map[string]map[int]*models.StatRecord{}
	for date, day := range snap.DailyStats {
		out := map[int]*models.StatRecord{}
		for key, rec := range day {
			if port, ok := parsePortKey(key); ok {
				rec := rec
				out[port] = &rec
			}
		}
		g.daily[date] = out
	}

	g.total = map[int]*models.StatRecord{}
	for key, rec := range snap.TotalStats {
		if port, ok := parsePortKey(key); ok {
			rec := rec
			g.total[port] = &rec
		}
	}

	g.series = map[int][]models.TrendPoint{}
	for key, points := range snap.TrafficSeries {
		if port, ok := parsePortKey(key); ok {
			if len(points) > g.maxPoints {
				points = points[len(points)-g.maxPoints:]
			}
			g.series[port] = append([]models.TrendPoint{}, points...)
		}
	}
	g.buckets = map[int]*minuteBucket{}
}

func parsePortKey(key string) (int, bool) {
	port, err := strconv.Atoi(key)
	if err != nil {
		log.WithField("key", key).Warn("ignoring persisted stats with a non-numeric port")
		return 0, false
	}
	return port, true
}
