// Package backup renders contact exports in the formats offered by the
// admin panel.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wppadmin/internal/model"
)

type Format string

const (
	FormatCSV            Format = "csv"
	FormatTXTDetailed    Format = "txt_detailed"
	FormatTXTNumbersOnly Format = "txt_numbers_only"
	FormatTXTNumberName  Format = "txt_number_name"
	FormatJSON           Format = "json"
)

// Formats lists every supported format in menu order.
var Formats = []Format{FormatCSV, FormatTXTDetailed, FormatTXTNumbersOnly, FormatTXTNumberName, FormatJSON}

var ErrNoContacts = errors.New("No WhatsApp contacts found to backup.")

const lineSep = "\r\n"

// File is a rendered export ready to be written or downloaded.
type File struct {
	Name     string
	MIMEType string
	Content  []byte
}

func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown backup format %q", s)
}

// Extension is the file extension used for f.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	}
	return "txt"
}

func (f Format) MIMEType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	}
	return "text/plain"
}

// FileName returns whatsapp_contacts_backup_<timestamp>.<ext> with the
// timestamp in UTC and colons replaced by dashes.
func FileName(f Format, now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15-04-05")
	return "whatsapp_contacts_backup_" + ts + "." + f.Extension()
}

// Render produces the export for contacts. An empty list is an error.
func Render(f Format, contacts []model.BackupContact, now time.Time) (*File, error) {
	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}
	content, err := Encode(f, contacts)
	if err != nil {
		return nil, err
	}
	return &File{
		Name:     FileName(f, now),
		MIMEType: f.MIMEType(),
		Content:  content,
	}, nil
}

// Encode renders only the body of the export.
func Encode(f Format, contacts []model.BackupContact) ([]byte, error) {
	switch f {
	case FormatCSV:
		return []byte(encodeCSV(contacts)), nil
	case FormatTXTDetailed:
		lines := make([]string, 0, len(contacts))
		for _, c := range contacts {
			lines = append(lines, fmt.Sprintf("Name: %s, Phone: %s", or(name(c), "N/A"), or(c.PlatformUserID, "N/A")))
		}
		return []byte(strings.Join(lines, lineSep)), nil
	case FormatTXTNumbersOnly:
		lines := make([]string, 0, len(contacts))
		for _, c := range contacts {
			if c.PlatformUserID != "" {
				lines = append(lines, c.PlatformUserID)
			}
		}
		return []byte(strings.Join(lines, lineSep)), nil
	case FormatTXTNumberName:
		lines := make([]string, 0, len(contacts))
		for _, c := range contacts {
			lines = append(lines, or(c.PlatformUserID, "No Number")+":"+or(name(c), "No Name"))
		}
		return []byte(strings.Join(lines, lineSep)), nil
	case FormatJSON:
		return encodeJSON(contacts)
	}
	return nil, fmt.Errorf("unknown backup format %q", f)
}

// encodeCSV always quotes the name column, which encoding/csv does not do.
func encodeCSV(contacts []model.BackupContact) string {
	rows := make([]string, 0, len(contacts)+1)
	rows = append(rows, "Name,PhoneNumber")
	for _, c := range contacts {
		n := "N/A"
		if v := name(c); v != "" {
			n = `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
		}
		rows = append(rows, n+","+or(c.PlatformUserID, "N/A"))
	}
	return strings.Join(rows, lineSep)
}

type jsonRow struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

func encodeJSON(contacts []model.BackupContact) ([]byte, error) {
	rows := make([]jsonRow, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, jsonRow{Name: or(name(c), "N/A"), PhoneNumber: or(c.PlatformUserID, "N/A")})
	}
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json backup: %w", err)
	}
	return out, nil
}

func name(c model.BackupContact) string {
	if c.Name == nil {
		return ""
	}
	return *c.Name
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
