package crawl

// State is the lifecycle position of a crawl, derived from its record.
type State string

// Lifecycle states in transition order.
const (
	StateCreated           State = "CREATED"
	StateKeywordsProcessed State = "KEYWORDS_PROCESSED"
	StateSeeded            State = "SEEDED"
	StateCrawling          State = "CRAWLING"
	StateStopped           State = "STOPPED"
)

// StateOf derives the lifecycle state from the crawl's own fields. The
// record is the only storage the state machine has.
func StateOf(c *Crawl) State {
	switch {
	case c.Completed != nil:
		return StateStopped
	case c.Started != nil:
		return StateCrawling
	case len(c.SeedURLs) > 0:
		return StateSeeded
	case len(c.ProcessedKeywords) > 0:
		return StateKeywordsProcessed
	default:
		return StateCreated
	}
}

func requireState(op string, c *Crawl, want State) error {
	if got := StateOf(c); got != want {
		return &PreconditionError{Op: op, Want: want, Actual: got}
	}
	return nil
}
