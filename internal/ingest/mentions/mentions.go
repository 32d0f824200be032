// Package mentions implements the cross-cutting mention-extraction rule
// shared by every ingestor that reads free-text bodies (§4.3 rule 4):
// @user, #number, and ticket-key (PROJ-123) references.
package mentions

import "regexp"

var (
	userRe   = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9-]{0,38})`)
	numberRe = regexp.MustCompile(`#(\d+)`)
	ticketRe = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9}-\d+)\b`)
)

// Extracted holds every reference found in a body, grouped by kind.
type Extracted struct {
	Users   []string
	Numbers []string
	Tickets []string
}

// Extract scans body for @user, #number, and PROJ-123 style references.
func Extract(body string) Extracted {
	var e Extracted
	for _, m := range userRe.FindAllStringSubmatch(body, -1) {
		e.Users = append(e.Users, m[1])
	}
	for _, m := range numberRe.FindAllStringSubmatch(body, -1) {
		e.Numbers = append(e.Numbers, m[1])
	}
	for _, m := range ticketRe.FindAllStringSubmatch(body, -1) {
		e.Tickets = append(e.Tickets, m[1])
	}
	return e
}
