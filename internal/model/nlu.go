package model

import (
	"time"
)

// ParseContext is the running context handed to the NLU parser with each
// transcript. The parser is stateless; everything it may need from earlier
// turns travels here.
type ParseContext struct {
	UserID        string
	Now           time.Time
	Location      *time.Location
	Step          Step
	Previous      ExtractedData
	PendingFields []MissingField
	History       []Message
}
