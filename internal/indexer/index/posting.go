package index

type Posting struct {
	DocID     string `json:"doc_id"`
	Frequency int    `json:"freq"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}
