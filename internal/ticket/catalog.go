package ticket

import (
	"hash/fnv"
	"math/rand/v2"
	"time"
)

type sample struct {
	subject string
	message string
}

var (
	financeSamples = []sample{
		{"Tax calculation review", "Need assistance with annual tax calculation"},
		{"Budget planning", "Requesting support for Q2 budget planning"},
		{"Investment strategy", "Looking for advice on portfolio diversification"},
		{"Expense report", "Monthly expense report needs verification"},
		{"Financial audit", "Request for internal audit documentation"},
	}
	generalSamples = []sample{
		{"Account access", "Unable to access my dashboard"},
		{"Documentation help", "Need help finding user guides"},
		{"Service inquiry", "Questions about available services"},
		{"Update contact", "Need to update contact information"},
		{"Meeting request", "Scheduling a consultation call"},
	}
)

const (
	catalogSize    = 5
	catalogMaxDays = 30
)

// Catalog serves sample ticket histories. Each user id always gets the same
// tickets relative to the reference time.
type Catalog struct {
	size int
}

func NewCatalog() *Catalog {
	return &Catalog{size: catalogSize}
}

// ForUser returns the tickets of userID, created within 30 days of now.
func (c *Catalog) ForUser(userID string, now time.Time) []Ticket {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(len(userID))))

	out := make([]Ticket, 0, c.size)
	for range c.size {
		typ, pool := TypeFinance, financeSamples
		if rng.IntN(2) == 1 {
			typ, pool = TypeGeneral, generalSamples
		}
		s := pool[rng.IntN(len(pool))]
		age := time.Duration(rng.IntN(catalogMaxDays+1)) * 24 * time.Hour
		out = append(out, Ticket{
			Type:      typ,
			Subject:   s.subject,
			Message:   s.message,
			CreatedAt: now.Add(-age).UTC(),
		})
	}
	return out
}
