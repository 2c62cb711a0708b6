package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"cardwise-api/internal/database"
)

// Collector exposes catalog and account gauges recomputed from the
// database on each scrape, plus request counters incremented inline.
type Collector struct {
	db *database.DB

	cardsTotal     prometheus.Gauge
	usersTotal     prometheus.Gauge
	ownershipTotal prometheus.Gauge
	cardsByIssuer  *prometheus.GaugeVec

	searchRequests prometheus.Counter
	chatRequests   prometheus.Counter
}

func New(db *database.DB) *Collector {
	c := &Collector{db: db}

	c.cardsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cardwise",
		Name:      "cards_total",
		Help:      "Number of cards in the catalog",
	})
	c.usersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cardwise",
		Name:      "users_total",
		Help:      "Number of registered users",
	})
	c.ownershipTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cardwise",
		Name:      "ownership_edges_total",
		Help:      "Number of user-card wallet entries",
	})
	c.cardsByIssuer = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cardwise",
		Name:      "cards_by_issuer",
		Help:      "Number of catalog cards per issuer",
	}, []string{"issuer"})

	c.searchRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cardwise",
		Name:      "search_requests_total",
		Help:      "Number of card name searches served",
	})
	c.chatRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cardwise",
		Name:      "chat_requests_total",
		Help:      "Number of advisor chat requests served",
	})

	return c
}

func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.cardsTotal,
		c.usersTotal,
		c.ownershipTotal,
		c.cardsByIssuer,
		c.searchRequests,
		c.chatRequests,
	)
}

// Refresh recomputes gauges (call on each scrape or periodically).
func (c *Collector) Refresh(ctx context.Context) error {
	cards, err := c.db.CountCards(ctx)
	if err != nil {
		return err
	}
	c.cardsTotal.Set(float64(cards))

	users, err := c.db.CountUsers(ctx)
	if err != nil {
		return err
	}
	c.usersTotal.Set(float64(users))

	edges, err := c.db.CountOwnershipEdges(ctx)
	if err != nil {
		return err
	}
	c.ownershipTotal.Set(float64(edges))

	byIssuer, err := c.db.CountCardsByIssuer(ctx)
	if err != nil {
		return err
	}
	c.cardsByIssuer.Reset()
	for issuer, n := range byIssuer {
		c.cardsByIssuer.WithLabelValues(issuer).Set(float64(n))
	}

	return nil
}

// IncSearch records one served search request.
func (c *Collector) IncSearch() {
	if c == nil {
		return
	}
	c.searchRequests.Inc()
}

// IncChat records one served advisor request.
func (c *Collector) IncChat() {
	if c == nil {
		return
	}
	c.chatRequests.Inc()
}
