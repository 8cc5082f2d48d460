package model

// SearchMode selects how a query term is matched against stored rows.
type SearchMode string

const (
	SearchSubstring SearchMode = "substring" // case-insensitive name fragment
	SearchExactName SearchMode = "exact"     // full name match
	SearchID        SearchMode = "id"        // numeric id
	SearchRank      SearchMode = "rank"      // last observed rank
	SearchIDSet     SearchMode = "idset"     // membership in an id set
)

// Valid reports whether the mode is a known search mode.
func (m SearchMode) Valid() bool {
	switch m {
	case SearchSubstring, SearchExactName, SearchID, SearchRank, SearchIDSet:
		return true
	}
	return false
}
