package favarch

import "strings"

// Submission is the metadata extracted for a single gallery submission.
// The identifier is assigned upstream and never changes; every other field
// is best-effort. An empty string means the field could not be located and
// is stored as NULL, never as a sentinel.
type Submission struct {
	// ID is the upstream identifier of the submission.
	ID int64
	// Rating is the content rating slug, e.g. "general" or "adult".
	Rating string
	// ThumbnailURL is the listing thumbnail source.
	ThumbnailURL string
	// Tags are the submission's tags as shown on the listing thumbnail.
	Tags []string
	// Title is the submission title.
	Title string
	// User is the uploader's account handle.
	User string
	// DisplayName is the uploader's display name.
	DisplayName string
	// Description is the submission description text.
	Description string
}

// TagString joins the tags with single spaces, the form the metadata table
// stores.
func (s Submission) TagString() string {
	return strings.Join(s.Tags, " ")
}

// Listing is one page of a user's favorites listing.
type Listing struct {
	// Submissions are the entries found on the page, in page order.
	Submissions []Submission
	// NextPath is the site-relative path of the next page, empty when the
	// page has no Next control.
	NextPath string
}

// IDs returns the identifiers of the listing's submissions, in page order.
func (l Listing) IDs() []int64 {
	ids := make([]int64, 0, len(l.Submissions))
	for _, s := range l.Submissions {
		ids = append(ids, s.ID)
	}
	return ids
}
