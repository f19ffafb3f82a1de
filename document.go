package inkdex

import (
	"os"
	"time"
)

// Document is the unit indexed in document mode. Key identifies it across
// re-indexing; DocNumber is assigned by Index and changes every time the
// document is indexed again.
type Document struct {
	DocNumber    int            `json:"doc_number"`
	Key          string         `json:"key"`
	Text         string         `json:"text,omitempty"`
	ModifiedDate time.Time      `json:"modified_date"`
	Size         int64          `json:"size"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// NewDocument returns an unindexed document.
func NewDocument(key, text string) Document {
	return Document{
		DocNumber:    -1,
		Key:          key,
		Text:         text,
		ModifiedDate: time.Now(),
		Size:         int64(len(text)),
	}
}

// NewFileDocument describes a file whose extracted text is text.
func NewFileDocument(path string, info os.FileInfo, text string) Document {
	return Document{
		DocNumber:    -1,
		Key:          path,
		Text:         text,
		ModifiedDate: info.ModTime(),
		Size:         info.Size(),
	}
}

func (d Document) String() string { return d.Key }
