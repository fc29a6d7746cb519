package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/persona/internal/storage"
)

// Payload is the typed form of a raw record's payload. Exactly one concrete
// type exists per storage.Source.
type Payload interface {
	source() storage.Source
}

// GmailMessage is the metadata of one email.
type GmailMessage struct {
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients"`
	SentAt     time.Time `json:"sent_at"`
	ThreadID   string    `json:"thread_id"`
	Labels     []string  `json:"labels"`
}

// DriveFile is one file listing from Google Drive. FileType holds the MIME type.
type DriveFile struct {
	FileName     string    `json:"file_name"`
	FileType     string    `json:"file_type"`
	FileSize     int64     `json:"file_size"`
	FolderPath   string    `json:"folder_path"`
	LastModified time.Time `json:"last_modified"`
	SharedWith   []string  `json:"shared_with"`
}

// Contact is one address-book entry from the device.
type Contact struct {
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Emails       []string `json:"emails"`
	Phones       []string `json:"phones"`
	Organization string   `json:"organization"`
	JobTitle     string   `json:"job_title"`
}

// FullName joins the name parts, trimming the gap when one is missing.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CalendarEvent is one event from the device calendar.
type CalendarEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Location    string    `json:"location"`
	Attendees   []string  `json:"attendees"`
	IsAllDay    bool      `json:"is_all_day"`
}

func (GmailMessage) source() storage.Source  { return storage.SourceGmail }
func (DriveFile) source() storage.Source     { return storage.SourceGoogleDrive }
func (Contact) source() storage.Source       { return storage.SourceIOSContacts }
func (CalendarEvent) source() storage.Source { return storage.SourceIOSCalendar }

// Error reports a record whose payload could not be turned into fields.
type Error struct {
	RecordID string
	Source   storage.Source
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extracting %s record %s: %v", e.Source, e.RecordID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Decode parses rec.RawPayload into the payload variant for rec.Source.
func Decode(rec storage.RawRecord) (Payload, error) {
	if !rec.Source.Valid() {
		return nil, &Error{RecordID: rec.ID, Source: rec.Source, Err: fmt.Errorf("unknown source %q", rec.Source)}
	}
	if raw := strings.TrimSpace(rec.RawPayload); raw == "" || raw == "null" {
		return nil, &Error{RecordID: rec.ID, Source: rec.Source, Err: errors.New("empty payload")}
	}

	var (
		p   Payload
		err error
	)
	switch rec.Source {
	case storage.SourceGmail:
		p, err = decodeAs[GmailMessage](rec.RawPayload)
	case storage.SourceGoogleDrive:
		p, err = decodeAs[DriveFile](rec.RawPayload)
	case storage.SourceIOSContacts:
		p, err = decodeAs[Contact](rec.RawPayload)
	case storage.SourceIOSCalendar:
		p, err = decodeAs[CalendarEvent](rec.RawPayload)
	}
	if err != nil {
		return nil, &Error{RecordID: rec.ID, Source: rec.Source, Err: fmt.Errorf("decoding payload: %w", err)}
	}
	return p, nil
}

func decodeAs[T Payload](raw string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}

// Encode serializes a payload for storage in RawRecord.RawPayload and returns
// the source it belongs to.
func Encode(p Payload) (storage.Source, string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("encoding %s payload: %w", p.source(), err)
	}
	return p.source(), string(b), nil
}
