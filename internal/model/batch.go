package model

// UpsertResult reports what a single upsert did to the store.
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// BatchStats aggregates the results of a batch upsert.
type BatchStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Add counts one upsert result.
func (s *BatchStats) Add(r UpsertResult) {
	switch r {
	case Inserted:
		s.Inserted++
	case Updated:
		s.Updated++
	}
}

// Total returns the number of records written.
func (s BatchStats) Total() int {
	return s.Inserted + s.Updated
}
