// Package runner wires one harvest end to end: sessions, enrichment,
// persistence, publishing and export.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rendis/mapharvest/internal/config"
	"github.com/rendis/mapharvest/internal/engine/browser"
	"github.com/rendis/mapharvest/internal/engine/enrich"
	"github.com/rendis/mapharvest/internal/engine/geo"
	"github.com/rendis/mapharvest/internal/engine/harvest"
	"github.com/rendis/mapharvest/internal/engine/identity"
	"github.com/rendis/mapharvest/internal/engine/sink"
	"github.com/rendis/mapharvest/internal/engine/storage"
	"github.com/rendis/mapharvest/internal/export"
	"github.com/rendis/mapharvest/internal/model"
)

// Job is one query to harvest.
type Job struct {
	Query    string
	Location string
	Settings config.Settings
}

// Hooks observe a running job and may replace its session factories.
type Hooks struct {
	OnProgress func(model.Progress)
	// Stats, when set, is updated live by the actors.
	Stats *harvest.Stats
	// Launcher replaces the Chrome launcher.
	Launcher browser.Launcher
	// Enrichers replaces the HTTP enrichment factory.
	Enrichers func(slot int) harvest.Enricher
	Geocoder  *geo.Geocoder
}

// Result describes a finished job and the files it produced.
type Result struct {
	RunID    string
	Params   model.SearchParams
	Records  []model.Business
	Filtered int
	Files    []string
	DBPath   string
	LogPath  string
	Duration time.Duration
	// Err is the partial-run error kept alongside the records, e.g. a cancellation.
	Err error
}

// Run executes job. Records collected before a cancellation are still
// persisted and exported; the cancellation is reported in Result.Err.
func Run(ctx context.Context, job Job, hooks Hooks) (*Result, error) {
	s := job.Settings
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	start := time.Now()
	base := export.BaseName(job.Query, job.Location, start)
	res := &Result{
		RunID:   uuid.NewString(),
		Params:  s.Params(job.Query, job.Location),
		LogPath: s.Path(base, "log"),
	}

	logFile, err := os.OpenFile(res.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer logFile.Close()
	logger := NewLogger(logFile, s.Debug)
	log := logger.WithField("run", res.RunID)
	log.WithFields(logrus.Fields{
		"query":    res.Params.Query,
		"location": res.Params.Location,
		"target":   res.Params.TargetCount,
		"workers":  res.Params.Workers,
		"timeout":  res.Params.Timeout,
	}).Info("session start")

	place, located := locate(ctx, job, hooks, log)
	if located {
		res.Params.CenterLat, res.Params.CenterLng = place.Center.Lat(), place.Center.Lon()
	}

	ids, err := identities(s)
	if err != nil {
		return nil, err
	}

	deps := harvest.Deps{Browsers: hooks.Launcher, Enrichers: hooks.Enrichers}
	if deps.Browsers == nil {
		deps.Browsers = browser.ChromeLauncher(s.ChromeOptions(), ids)
	}
	if deps.Enrichers == nil && !s.NoEnrich {
		enrichers, closeCache := enricherFactory(ctx, s, ids, logger, log)
		defer closeCache()
		deps.Enrichers = enrichers
	}

	var store *storage.Store
	if !s.NoDB {
		res.DBPath = s.Path(base, "db")
		store, err = storage.NewStore(res.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		defer store.Close()
	}

	var pub *sink.KafkaPublisher
	if s.KafkaBrokers != "" {
		pub = sink.NewKafkaPublisher(s.KafkaBrokers, s.KafkaTopic, res.RunID)
		defer func() {
			if err := pub.Close(); err != nil {
				log.WithError(err).Warn("closing kafka publisher")
			}
		}()
	}

	// Out-of-area records never reach the run database or the topic.
	inArea := func(model.Business) bool { return true }
	if s.WithinLocation && located {
		inArea = func(b model.Business) bool { return geo.Within(b, place.Bound, s.WithinMargin) }
	}

	cfg := s.HarvestConfig()
	coll, runErr := harvest.Run(ctx, res.Params, deps, logger, &harvest.RunOptions{
		RunID:      res.RunID,
		Config:     &cfg,
		Stats:      hooks.Stats,
		OnProgress: hooks.OnProgress,
		OnRecord: func(b model.Business) {
			if !inArea(b) {
				log.WithField("name", b.Name).Debug("record outside location, not stored")
				return
			}
			if store != nil {
				if _, err := store.InsertBatch(res.RunID, []model.Business{b}); err != nil {
					log.WithError(err).WithField("name", b.Name).Error("storing record")
				}
			}
			if pub != nil {
				pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := pub.Publish(pctx, b); err != nil {
					log.WithError(err).WithField("name", b.Name).Warn("publishing record")
				}
			}
		},
	})
	if runErr != nil && !Cancelled(runErr) {
		log.WithError(runErr).Error("harvest failed")
		return nil, runErr
	}
	res.Err = runErr

	res.Records = coll.Snapshot()
	if s.WithinLocation && located {
		kept := geo.FilterWithin(res.Records, place.Bound, s.WithinMargin)
		res.Filtered = len(res.Records) - len(kept)
		res.Records = kept
		log.WithField("dropped", res.Filtered).Info("filtered records outside location")
	}

	res.Files, err = Export(s, base, res.Records)
	if err != nil {
		log.WithError(err).Error("export failed")
		return res, err
	}
	res.Duration = time.Since(start).Truncate(time.Second)
	log.WithFields(logrus.Fields{
		"records":  len(res.Records),
		"files":    len(res.Files),
		"duration": res.Duration,
	}).Info("session done")
	return res, nil
}

// NewLogger returns the per-run text logger.
func NewLogger(out io.Writer, debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// Export writes records in every requested format and returns the paths written.
func Export(s config.Settings, base string, records []model.Business) ([]string, error) {
	var files []string
	if s.HasFormat(config.FormatCSV) {
		path := s.Path(base, "csv")
		if err := export.WriteCSV(path, records); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	if s.HasFormat(config.FormatXLSX) {
		path := s.Path(base, "xlsx")
		if err := export.WriteXLSX(path, records); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	if s.HasFormat(config.FormatGeoJSON) {
		path := s.Path(base, "geojson")
		if _, err := export.WriteGeoJSON(path, records); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func locate(ctx context.Context, job Job, hooks Hooks, log logrus.FieldLogger) (geo.Place, bool) {
	if !job.Settings.Geocode || job.Location == "" {
		return geo.Place{}, false
	}
	gctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var place geo.Place
	var err error
	if hooks.Geocoder != nil {
		place, err = hooks.Geocoder.Geocode(gctx, job.Location)
	} else {
		place, err = geo.GeocodeLocation(gctx, job.Location)
	}
	if err != nil {
		log.WithError(err).WithField("location", job.Location).Warn("geocoding failed, searching without a viewport")
		return geo.Place{}, false
	}
	log.WithFields(logrus.Fields{
		"place": place.DisplayName,
		"lat":   place.Center.Lat(),
		"lng":   place.Center.Lon(),
	}).Info("location geocoded")
	return place, true
}

func identities(s config.Settings) (*identity.Supplier, error) {
	var proxies []string
	if s.Proxies != "" {
		var err error
		if proxies, err = identity.LoadProxies(s.Proxies); err != nil {
			return nil, err
		}
	}
	return identity.NewSupplier(proxies, s.UserAgents), nil
}

// enricherFactory builds one HTTP session per processing slot over a shared
// verifier and contact cache.
func enricherFactory(ctx context.Context, s config.Settings, ids *identity.Supplier, logger *logrus.Logger, log logrus.FieldLogger) (func(int) harvest.Enricher, func()) {
	var cache enrich.Cache = enrich.NewMemoryCache()
	closeCache := func() {}
	if s.RedisAddr != "" {
		rc := enrich.NewRedisCache(s.RedisAddr, s.RedisTTL, log)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ping(pctx)
		cancel()
		if err != nil {
			log.WithError(err).WithField("addr", s.RedisAddr).Warn("redis unavailable, caching contacts in memory")
			rc.Close()
		} else {
			cache = rc
			closeCache = func() { rc.Close() }
		}
	}

	var verifier enrich.Verifier
	if s.VerifyMX {
		verifier = enrich.NewMXVerifier()
	}

	return func(slot int) harvest.Enricher {
		sess := enrich.NewSession(enrich.SessionOptions{
			Proxy:             ids.NextProxy(),
			UserAgents:        ids,
			Lang:              s.Lang,
			RequestsPerSecond: s.RequestsPerSecond,
		})
		return enrich.New(sess, enrich.Options{
			Verifier: verifier,
			Cache:    cache,
			Logger:   logger.WithField("actor", fmt.Sprintf("worker-%d", slot)),
		})
	}, closeCache
}

// Cancelled reports whether err only records an interrupted run.
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
