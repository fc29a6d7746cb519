package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/intent"
	"github.com/kalambet/persona/internal/storage"
)

// Source labels cited by replies.
const (
	SourceUserProfile    = "User Profile"
	SourceProcessedData  = "Processed Data"
	SourceEmailAnalysis  = "Email Analysis"
	SourceFileAnalysis   = "File Analysis"
	SourceContacts       = "Contacts"
	SourceCalendarEvents = "Calendar Events"
	SourceGoogleDrive    = "Google Drive"
	SourceCalendar       = "Calendar"
	SourceGeneral        = "General Knowledge"
)

const (
	msgNoUser          = "I don't have information about you yet. Please make sure you're logged in correctly."
	msgNoInterests     = "I don't have enough data to identify your interests yet. Try connecting more data sources or give me some time to analyze your information."
	msgNoRelationships = "I don't have information about your relationships yet. Make sure to sync your contacts."
	msgNoTasks         = "I don't have any tasks identified for you yet. Try syncing your calendar or give me more time to analyze your data."
	msgNoHealth        = "I don't have health information for you yet. Make sure to sync your contacts to identify doctors and medical contacts."
	msgNoWork          = "I don't have work information for you yet. Try syncing your contacts and calendar to get work-related insights."
	msgNoFiles         = "I don't have information about your files yet. Make sure to connect your Google Drive."
	msgNoEvents        = "I don't have upcoming events for you. Make sure to sync your calendar."
	msgGeneral         = "I understand you're asking about something, but I need more specific information. Try asking about your interests, relationships, tasks, or work. You can also ask 'Who am I?' to get a general overview."
)

const (
	whoAmIInterests   = 5
	interestsListed   = 10
	relationshipsEach = 5
	pendingTasksShown = 5
	colleaguesShown   = 5
)

// reply is what a handler produces; the Manager wraps it into a Response.
type reply struct {
	message    string
	confidence float64
	sources    []string
}

// noData is the low-confidence answer for a question the profile cannot
// answer yet. It is not an error.
func noData(msg string) reply {
	return reply{message: msg, confidence: 0.0, sources: []string{}}
}

type handlerInput struct {
	userID string
	text   string
	prefs  *storage.UserPreferences
	now    time.Time
}

type handler func(ctx context.Context, in handlerInput) (reply, error)

func (m *Manager) handlerFor(i intent.Intent) handler {
	switch i {
	case intent.WhoAmI:
		return m.whoAmI
	case intent.Interests:
		return m.interests
	case intent.Relationships:
		return m.relationships
	case intent.Tasks:
		return m.tasks
	case intent.Health:
		return m.health
	case intent.Work:
		return m.work
	case intent.Files:
		return m.files
	case intent.Calendar:
		return m.calendar
	}
	return m.general
}

func (m *Manager) whoAmI(ctx context.Context, in handlerInput) (reply, error) {
	user, err := m.store.GetUser(ctx, in.userID)
	if errors.Is(err, storage.ErrNotFound) {
		return noData(msgNoUser), nil
	}
	if err != nil {
		return reply{}, fmt.Errorf("loading user: %w", err)
	}

	var b builder
	b.line("Hello %s! Based on your data, I can see that:", user.Name)
	b.line("")
	if p := in.prefs; p != nil {
		if len(p.Interests) > 0 {
			b.bullet("You're interested in: %s", strings.Join(p.Interests[:min(len(p.Interests), whoAmIInterests)], ", "))
		}
		if len(p.Relationships) > 0 {
			b.bullet("You have %d contacts in your network", len(p.Relationships))
		}
		if len(p.Tasks) > 0 {
			b.bullet("You have %d pending tasks", len(storage.TaskList(p.Tasks).Pending()))
		}
	}
	return reply{message: b.String(), confidence: 0.9, sources: []string{SourceUserProfile, SourceProcessedData}}, nil
}

func (m *Manager) interests(_ context.Context, in handlerInput) (reply, error) {
	if in.prefs == nil || len(in.prefs.Interests) == 0 {
		return noData(msgNoInterests), nil
	}

	var b builder
	b.line("Based on your data, here are your interests:")
	b.line("")
	for _, interest := range in.prefs.Interests[:min(len(in.prefs.Interests), interestsListed)] {
		b.bullet("%s", interest)
	}
	return reply{message: b.String(), confidence: 0.8, sources: []string{SourceEmailAnalysis, SourceFileAnalysis}}, nil
}

func (m *Manager) relationships(_ context.Context, in handlerInput) (reply, error) {
	if in.prefs == nil || len(in.prefs.Relationships) == 0 {
		return noData(msgNoRelationships), nil
	}

	byType := make(map[storage.RelationshipType][]storage.Relationship)
	for _, r := range in.prefs.Relationships {
		byType[r.Type] = append(byType[r.Type], r)
	}

	var b builder
	b.line("Here are the people in your network:")
	b.line("")
	if doctors := byType[storage.RelationshipDoctor]; len(doctors) > 0 {
		b.heading("Doctors:")
		for _, d := range doctors {
			b.bullet("%s", withOrganization(d.Name, organizationOf(d)))
		}
		b.line("")
	}
	if colleagues := byType[storage.RelationshipColleague]; len(colleagues) > 0 {
		b.heading("Colleagues:")
		for _, c := range colleagues[:min(len(colleagues), relationshipsEach)] {
			b.bullet("%s", withOrganization(c.Name, organizationOf(c)))
		}
		b.line("")
	}
	if family := byType[storage.RelationshipFamily]; len(family) > 0 {
		b.heading("Family:")
		for _, f := range family[:min(len(family), relationshipsEach)] {
			b.bullet("%s", f.Name)
		}
		b.line("")
	}
	if friends := byType[storage.RelationshipFriend]; len(friends) > 0 {
		b.heading("Friends:")
		for _, f := range friends[:min(len(friends), relationshipsEach)] {
			b.bullet("%s", f.Name)
		}
	}
	return reply{message: b.String(), confidence: 0.9, sources: []string{SourceContacts, SourceEmailAnalysis}}, nil
}

func (m *Manager) tasks(_ context.Context, in handlerInput) (reply, error) {
	if in.prefs == nil || len(in.prefs.Tasks) == 0 {
		return noData(msgNoTasks), nil
	}

	pending := storage.TaskList(in.prefs.Tasks).Pending()

	var b builder
	b.heading("Task Summary:")
	b.line("")
	b.bullet("Pending: %d", len(pending))
	b.bullet("Completed: %d", len(in.prefs.Tasks)-len(pending))
	b.line("")
	if len(pending) > 0 {
		b.heading("Pending Tasks:")
		for _, t := range pending[:min(len(pending), pendingTasksShown)] {
			b.bullet("%s (Due: %s)", t.Title, dueLabel(t.DueDate))
		}
	}
	return reply{message: b.String(), confidence: 0.9, sources: []string{SourceCalendarEvents, SourceEmailAnalysis}}, nil
}

func (m *Manager) health(_ context.Context, in handlerInput) (reply, error) {
	if in.prefs == nil || in.prefs.HealthInfo == nil {
		return noData(msgNoHealth), nil
	}
	h := in.prefs.HealthInfo

	var b builder
	b.heading("Health Information:")
	b.line("")
	if len(h.Doctors) > 0 {
		b.heading("Your Doctors:")
		for _, d := range h.Doctors {
			if d.Specialty != "" {
				b.bullet("Dr. %s - %s", d.Name, d.Specialty)
			} else {
				b.bullet("Dr. %s", d.Name)
			}
			if d.LastVisit != nil {
				b.line("  Last visit: %s", d.LastVisit.UTC().Format(longDate))
			}
		}
		b.line("")
	}
	if len(h.Medications) > 0 {
		b.heading("Medications:")
		for _, med := range h.Medications {
			b.bullet("%s", med)
		}
		b.line("")
	}
	if len(h.Allergies) > 0 {
		b.heading("Allergies:")
		for _, a := range h.Allergies {
			b.bullet("%s", a)
		}
	}
	return reply{message: b.String(), confidence: 0.9, sources: []string{SourceContacts, SourceEmailAnalysis}}, nil
}

func (m *Manager) work(_ context.Context, in handlerInput) (reply, error) {
	if in.prefs == nil || in.prefs.WorkInfo == nil {
		return noData(msgNoWork), nil
	}
	w := in.prefs.WorkInfo

	var b builder
	b.heading("Work Information:")
	b.line("")
	if w.Company != "" {
		b.line("**Company:** %s", w.Company)
	}
	if w.Position != "" {
		b.line("**Position:** %s", w.Position)
	}
	if len(w.Colleagues) > 0 {
		b.line("")
		b.heading(fmt.Sprintf("Colleagues (%d):", len(w.Colleagues)))
		for _, c := range w.Colleagues[:min(len(w.Colleagues), colleaguesShown)] {
			b.bullet("%s", c.Name)
		}
	}
	if len(w.Projects) > 0 {
		b.line("")
		b.heading("Projects:")
		for _, p := range w.Projects {
			b.bullet("%s", p)
		}
	}
	return reply{message: b.String(), confidence: 0.8, sources: []string{SourceContacts, SourceCalendarEvents, SourceEmailAnalysis}}, nil
}

// files reads Drive records directly so the answer reflects the latest sync
// rather than the last rebuild.
func (m *Manager) files(ctx context.Context, in handlerInput) (reply, error) {
	records, err := m.store.FindRecordsByUser(ctx, in.userID, storage.SourceGoogleDrive)
	if err != nil {
		return reply{}, fmt.Errorf("loading drive records: %w", err)
	}
	files := decodeAll[extract.DriveFile](records, m.logger)
	if len(files) == 0 {
		return noData(msgNoFiles), nil
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].LastModified.After(files[j].LastModified)
	})

	var b builder
	b.heading("Recent Files:")
	b.line("")
	for _, f := range files[:min(len(files), m.maxResults)] {
		b.bullet("%s (%s) - %s (%s)", f.FileName, f.FileType, f.LastModified.UTC().Format(longDate), FormatFileSize(f.FileSize))
	}
	return reply{message: b.String(), confidence: 0.9, sources: []string{SourceGoogleDrive}}, nil
}

// calendar lists events starting strictly after now, soonest first, read
// directly from calendar records.
func (m *Manager) calendar(ctx context.Context, in handlerInput) (reply, error) {
	records, err := m.store.FindRecordsByUser(ctx, in.userID, storage.SourceIOSCalendar)
	if err != nil {
		return reply{}, fmt.Errorf("loading calendar records: %w", err)
	}

	var upcoming []extract.CalendarEvent
	for _, e := range decodeAll[extract.CalendarEvent](records, m.logger) {
		if e.StartTime.After(in.now) {
			upcoming = append(upcoming, e)
		}
	}
	if len(upcoming) == 0 {
		return noData(msgNoEvents), nil
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].StartTime.Before(upcoming[j].StartTime)
	})

	var b builder
	b.heading("Upcoming Events:")
	b.line("")
	for _, e := range upcoming[:min(len(upcoming), m.maxResults)] {
		loc := ""
		if e.Location != "" {
			loc = " at " + e.Location
		}
		b.bullet("%s - %s%s", e.Title, e.StartTime.UTC().Format(longDateTime), loc)
	}
	return reply{message: b.String(), confidence: 0.9, sources: []string{SourceCalendar}}, nil
}

func (m *Manager) general(context.Context, handlerInput) (reply, error) {
	return reply{message: msgGeneral, confidence: 0.3, sources: []string{SourceGeneral}}, nil
}

// decodeAll decodes every record whose payload is a T, skipping the rest.
func decodeAll[T extract.Payload](records []storage.RawRecord, logger *zap.Logger) []T {
	var out []T
	for _, rec := range records {
		p, err := extract.Decode(rec)
		if err != nil {
			logger.Debug("skipping undecodable record", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func organizationOf(r storage.Relationship) string {
	if r.ContactInfo == nil {
		return ""
	}
	return r.ContactInfo.Organization
}
