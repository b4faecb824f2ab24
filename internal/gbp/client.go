// Package gbp talks to the Google Business Profile APIs: the Business
// Information API for the location listing and the v4 REST surface for
// reviews (which has no generated client).
package gbp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	mybusiness "google.golang.org/api/mybusinessbusinessinformation/v1"
	"google.golang.org/api/option"

	"github.com/reviewkit/sync-worker/internal/retry"
)

const (
	defaultBaseURL  = "https://mybusiness.googleapis.com"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	locationReadMask = "name,title,latlng"
)

// ErrNotFound reports that the referenced resource no longer exists upstream.
// It is terminal for the resource, not transient.
var ErrNotFound = errors.New("provider resource not found")

type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	baseURL      string // v4 reviews endpoint
	infoEndpoint string // Business Information API override, empty for default
	tokenURL     string
	retryCfg     retry.Config
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  defaultBaseURL,
		tokenURL: defaultTokenURL,
		retryCfg: retry.Config{
			MaxAttempts: 4,
			BaseDelay:   500 * time.Millisecond,
			Retryable:   isTransient,
		},
	}
}

// isTransient reports whether a provider error is worth retrying: rate
// limiting and server-side failures are, everything else is not.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}

// isTransientRefresh is the token-endpoint analogue of isTransient. An OAuth
// error code in the body (invalid_grant and friends) is a verdict, not an
// outage, and is never retried.
func isTransientRefresh(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode != "" {
		return false
	}
	if retrieveErr.Response == nil {
		return false
	}
	code := retrieveErr.Response.StatusCode
	return code == http.StatusTooManyRequests || code >= 500
}

// ListReviews fetches one page of reviews for a location. accountRef and
// locationRef are provider resource names ("accounts/123", "locations/456").
// A 404 maps to ErrNotFound; 429 and 5xx are retried with backoff before
// surfacing.
func (c *Client) ListReviews(ctx context.Context, accessToken, accountRef, locationRef string, pageSize int, pageToken string) (*ReviewPage, error) {
	endpoint := fmt.Sprintf("%s/v4/%s/%s/reviews", c.baseURL, accountRef, locationRef)

	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var page ReviewPage
	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if err := googleapi.CheckResponse(resp); err != nil {
			return err
		}

		page = ReviewPage{}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return fmt.Errorf("failed to decode review page: %w", err)
		}
		return nil
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, accountRef, locationRef)
		}
		return nil, fmt.Errorf("failed to list reviews for %s/%s: %w", accountRef, locationRef, err)
	}

	return &page, nil
}

// ListLocations fetches one page of the tenant's locations under an account.
func (c *Client) ListLocations(ctx context.Context, accessToken, accountRef string, pageToken string) (*LocationPage, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}

	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
	if c.infoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.infoEndpoint))
	}

	svc, err := mybusiness.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create business information service: %w", err)
	}

	var resp *mybusiness.ListLocationsResponse
	err = retry.Do(ctx, c.retryCfg, func() error {
		call := svc.Accounts.Locations.List(accountRef).ReadMask(locationReadMask).PageSize(100)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, accountRef)
		}
		return nil, fmt.Errorf("failed to list locations for %s: %w", accountRef, err)
	}

	page := &LocationPage{NextPageToken: resp.NextPageToken}
	for _, loc := range resp.Locations {
		record := LocationRecord{
			Name:  loc.Name,
			Title: loc.Title,
		}
		if loc.Latlng != nil {
			lat, lng := loc.Latlng.Latitude, loc.Latlng.Longitude
			record.Latitude = &lat
			record.Longitude = &lng
		}
		page.Locations = append(page.Locations, record)
	}

	return page, nil
}

// RefreshAccessToken exchanges a refresh token for a fresh access token. The
// underlying oauth2 error is preserved in the chain so callers can detect an
// invalid_grant response.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.tokenURL,
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	refreshCfg := c.retryCfg
	refreshCfg.Retryable = isTransientRefresh

	var newToken *oauth2.Token
	err := retry.Do(ctx, refreshCfg, func() error {
		tok, err := config.TokenSource(ctx, token).Token()
		if err != nil {
			return err
		}
		newToken = tok
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	return result, nil
}
