// Package profile rebuilds a user's preference profile from their raw
// records and serves it, cached, to the chat layer.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

// relationshipConfidence is assigned to every contact-derived relationship.
const relationshipConfidence = 0.8

// Store defines the storage operations the Aggregator needs.
// Implemented by storage.Store.
type Store interface {
	FindRecordsByUser(ctx context.Context, userID string, source storage.Source) ([]storage.RawRecord, error)
	GetPreferences(ctx context.Context, userID string) (*storage.UserPreferences, error)
	SavePreferences(ctx context.Context, userID string, prefs storage.UserPreferences) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// AggregationError reports a store failure during a rebuild. Stored
// preferences are unchanged when it is returned.
type AggregationError struct {
	UserID string
	Op     string
	Err    error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("rebuilding preferences for %s: %s: %v", e.UserID, e.Op, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// Aggregator derives UserPreferences from every raw record a user owns.
type Aggregator struct {
	store   Store
	clock   Clock
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewAggregator creates an Aggregator. A nil logger or collector disables
// logging or metrics respectively.
func NewAggregator(store Store, logger *zap.Logger, m *metrics.Collector) *Aggregator {
	return NewAggregatorWithClock(store, realClock{}, logger, m)
}

// NewAggregatorWithClock creates an Aggregator with a custom clock (for testing).
func NewAggregatorWithClock(store Store, clock Clock, logger *zap.Logger, m *metrics.Collector) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, clock: clock, logger: logger, metrics: m}
}

// Rebuild recomputes the user's preferences from scratch and replaces the
// stored copy. Task completion depends on the current time, so rebuilding
// later can flip IsCompleted on tasks without any new records.
func (a *Aggregator) Rebuild(ctx context.Context, userID string) (prefs storage.UserPreferences, err error) {
	start := a.clock.Now()
	defer func() { a.metrics.ObserveRebuild(a.clock.Now().Sub(start), err) }()

	// Existence check: GetPreferences reports ErrNotFound for unknown users.
	if _, err := a.store.GetPreferences(ctx, userID); err != nil {
		return storage.UserPreferences{}, &AggregationError{UserID: userID, Op: "loading user", Err: err}
	}

	records, err := a.store.FindRecordsByUser(ctx, userID, "")
	if err != nil {
		return storage.UserPreferences{}, &AggregationError{UserID: userID, Op: "loading records", Err: err}
	}

	now := a.clock.Now()
	prefs = a.build(records, now)
	prefs.LastUpdated = now

	if err := a.store.SavePreferences(ctx, userID, prefs); err != nil {
		return storage.UserPreferences{}, &AggregationError{UserID: userID, Op: "saving preferences", Err: err}
	}

	a.logger.Info("preferences rebuilt",
		zap.String("user_id", userID),
		zap.Int("records", len(records)),
		zap.Int("interests", len(prefs.Interests)),
		zap.Int("relationships", len(prefs.Relationships)),
		zap.Int("tasks", len(prefs.Tasks)),
	)
	return prefs, nil
}

// RebuildAll rebuilds every active user with at most limit rebuilds in
// flight. A failing user does not stop the others; all failures are joined
// into the returned error.
func (a *Aggregator) RebuildAll(ctx context.Context, limit int) (int, error) {
	ids, err := a.store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	if limit <= 0 {
		limit = 1
	}

	var (
		mu      sync.Mutex
		rebuilt int
		errs    []error
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := a.Rebuild(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			rebuilt++
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return rebuilt, errors.Join(errs...)
}

// build folds the records into a fresh preference snapshot. Records whose
// payload cannot be decoded are skipped.
func (a *Aggregator) build(records []storage.RawRecord, now time.Time) storage.UserPreferences {
	prefs := storage.UserPreferences{
		Interests:     []string{},
		Habits:        []string{},
		Relationships: []storage.Relationship{},
		Tasks:         []storage.TaskItem{},
	}
	seen := make(map[string]struct{})
	var doctors []storage.Doctor
	var colleagues []storage.Relationship

	for _, rec := range records {
		p, err := extract.Decode(rec)
		if err != nil {
			a.logger.Debug("skipping undecodable record",
				zap.String("record_id", rec.ID),
				zap.String("source", string(rec.Source)),
				zap.Error(err),
			)
			continue
		}

		switch v := p.(type) {
		case extract.GmailMessage:
			for _, kw := range extract.ExtractKeywords(v.Subject) {
				if _, dup := seen[kw]; dup {
					continue
				}
				seen[kw] = struct{}{}
				prefs.Interests = append(prefs.Interests, kw)
			}

		case extract.Contact:
			rel := relationshipFromContact(v)
			prefs.Relationships = append(prefs.Relationships, rel)
			switch rel.Type {
			case storage.RelationshipDoctor:
				doctors = append(doctors, storage.Doctor{
					Name:        rel.Name,
					Specialty:   v.JobTitle,
					ContactInfo: copyContactInfo(rel.ContactInfo),
				})
			case storage.RelationshipColleague:
				colleagues = append(colleagues, rel)
			}

		case extract.CalendarEvent:
			prefs.Tasks = append(prefs.Tasks, taskFromEvent(v, now))

		case extract.DriveFile:
			// Drive listings are served live by the files answer and do not
			// contribute to the profile.
		}
	}

	if len(doctors) > 0 {
		prefs.HealthInfo = &storage.HealthInfo{
			Doctors:     doctors,
			Medications: []string{},
			Allergies:   []string{},
		}
	}
	if len(colleagues) > 0 {
		prefs.WorkInfo = &storage.WorkInfo{
			Company:    mostCommonOrganization(colleagues),
			Colleagues: colleagues,
			Projects:   []string{},
		}
	}
	return prefs
}

func relationshipFromContact(c extract.Contact) storage.Relationship {
	name := c.FullName()
	info := &storage.ContactInfo{Organization: c.Organization}
	if len(c.Emails) > 0 {
		info.Email = c.Emails[0]
	}
	if len(c.Phones) > 0 {
		info.Phone = c.Phones[0]
	}
	return storage.Relationship{
		Name:        name,
		Type:        extract.ClassifyRelationship(name, c.Organization),
		ContactInfo: info,
		Source:      storage.SourceIOSContacts,
		Confidence:  relationshipConfidence,
	}
}

func taskFromEvent(e extract.CalendarEvent, now time.Time) storage.TaskItem {
	due := e.StartTime
	return storage.TaskItem{
		Title:       e.Title,
		Description: e.Description,
		DueDate:     &due,
		Priority:    storage.DefaultTaskPriority,
		IsCompleted: e.EndTime.Before(now),
		Source:      storage.SourceIOSCalendar,
	}
}

// mostCommonOrganization picks the organization shared by most colleagues.
// Ties go to the organization seen first.
func mostCommonOrganization(colleagues []storage.Relationship) string {
	counts := make(map[string]int)
	var order []string
	for _, c := range colleagues {
		if c.ContactInfo == nil || c.ContactInfo.Organization == "" {
			continue
		}
		org := c.ContactInfo.Organization
		if counts[org] == 0 {
			order = append(order, org)
		}
		counts[org]++
	}

	var best string
	for _, org := range order {
		if counts[org] > counts[best] {
			best = org
		}
	}
	return best
}

func copyContactInfo(ci *storage.ContactInfo) *storage.ContactInfo {
	if ci == nil {
		return nil
	}
	cp := *ci
	return &cp
}
