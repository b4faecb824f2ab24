package gbp

import "time"

// Star rating enum values as returned by the provider.
const (
	StarRatingOne   = "ONE"
	StarRatingTwo   = "TWO"
	StarRatingThree = "THREE"
	StarRatingFour  = "FOUR"
	StarRatingFive  = "FIVE"
)

var starRatingValues = map[string]int{
	StarRatingOne:   1,
	StarRatingTwo:   2,
	StarRatingThree: 3,
	StarRatingFour:  4,
	StarRatingFive:  5,
}

// RatingValue maps a provider star-rating enum to 1..5. Unknown values map to
// nil so an unmapped enum is stored as no rating rather than an invented one.
func RatingValue(star string) *int {
	if v, ok := starRatingValues[star]; ok {
		return &v
	}
	return nil
}

// Reviewer is the author block on a provider review.
type Reviewer struct {
	DisplayName string `json:"displayName"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// ReviewReply is the owner reply attached to a review, if any.
type ReviewReply struct {
	Comment    string    `json:"comment"`
	UpdateTime time.Time `json:"updateTime"`
}

// ReviewRecord is one review as returned by the v4 reviews endpoint.
type ReviewRecord struct {
	ReviewID   string       `json:"reviewId"`
	Reviewer   Reviewer     `json:"reviewer"`
	StarRating string       `json:"starRating"`
	Comment    string       `json:"comment"`
	CreateTime time.Time    `json:"createTime"`
	UpdateTime time.Time    `json:"updateTime"`
	Reply      *ReviewReply `json:"reviewReply,omitempty"`
}

// ReviewPage is one page of the paginated review listing.
type ReviewPage struct {
	Reviews          []ReviewRecord `json:"reviews"`
	NextPageToken    string         `json:"nextPageToken"`
	TotalReviewCount int64          `json:"totalReviewCount"`
	AverageRating    float64        `json:"averageRating"`
}

// LocationRecord is one business location from the location listing.
type LocationRecord struct {
	// Name is the provider resource name, e.g. "locations/123456".
	Name      string
	Title     string
	Latitude  *float64
	Longitude *float64
}

// LocationPage is one page of the paginated location listing.
type LocationPage struct {
	Locations     []LocationRecord
	NextPageToken string
}

// TokenRefreshResult carries the outcome of a refresh_token grant.
type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // may be the same or a rotated token
}
