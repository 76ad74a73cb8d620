package domain

import "time"

// Signal is an inbound trading instruction. It is stored once and never mutated.
type Signal struct {
	ID          int64
	Pair        string
	Direction   Direction
	Entry       float64
	Leverage    int       // 0 means use the configured default
	TakeProfits []float64 // up to MaxTakeProfitLevels, in level order
	StopLoss    float64
	Quantity    float64 // 0 means derive from balance
	Channel     string
	RawMessage  string
	Timestamp   time.Time
}

// MissingFields lists the required fields the signal lacks.
func (s *Signal) MissingFields() []string {
	var missing []string
	if s.Pair == "" {
		missing = append(missing, "pair")
	}
	if s.Direction != Long && s.Direction != Short {
		missing = append(missing, "direction")
	}
	if s.Entry <= 0 {
		missing = append(missing, "entry")
	}
	return missing
}
