// Package views derives what the admin screens show from cached data:
// filtered and paginated contact lists, thread lines and bulk selection.
package views

import (
	"strings"

	"github.com/matheus3301/wppadmin/internal/model"
)

const PageSize = 50

// PlatformAll disables the platform filter.
const PlatformAll = "all"

// FilterContacts keeps contacts whose name contains search (case-insensitive)
// or whose platform user id contains it (case-sensitive), restricted to
// platform unless it is "all" or empty. Input order is preserved.
func FilterContacts(contacts []model.Contact, search, platform string) []model.Contact {
	needle := strings.ToLower(search)
	out := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if platform != "" && platform != PlatformAll && string(c.Platform) != platform {
			continue
		}
		if search != "" {
			byName := c.Name != nil && strings.Contains(strings.ToLower(*c.Name), needle)
			if !byName && !strings.Contains(c.PlatformUserID, search) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// PageCount is at least 1.
func PageCount(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + PageSize - 1) / PageSize
}

// ClampPage keeps page within 1..PageCount(n).
func ClampPage(page, n int) int {
	if page < 1 {
		return 1
	}
	if last := PageCount(n); page > last {
		return last
	}
	return page
}

// Paginate returns the 1-based page of contacts, clamped to a valid page.
func Paginate(contacts []model.Contact, page int) []model.Contact {
	page = ClampPage(page, len(contacts))
	start := (page - 1) * PageSize
	if start >= len(contacts) {
		return nil
	}
	end := min(start+PageSize, len(contacts))
	return contacts[start:end]
}

// DisplayName is the contact's name, or its platform user id when unnamed.
func DisplayName(c model.Contact) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return c.PlatformUserID
}

// ReconcileActive returns active, or "" when no contact has that id anymore.
func ReconcileActive(contacts []model.Contact, active string) string {
	if active == "" {
		return ""
	}
	for _, c := range contacts {
		if c.ID == active {
			return active
		}
	}
	return ""
}

func ContactIDs(contacts []model.Contact) []string {
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	return ids
}

func FindContact(contacts []model.Contact, id string) (model.Contact, bool) {
	for _, c := range contacts {
		if c.ID == id {
			return c, true
		}
	}
	return model.Contact{}, false
}
