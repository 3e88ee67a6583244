package marketsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"bitbucket.org/mmdatafocus/sellersync_backend/utils"
	"github.com/google/uuid"
)

const (
	settlementEndpoint = "/integration/finance/che/sellers/%s/settlements"
	pageSize           = 1000
)

var ErrStoreNotConnected = errors.New("store has no usable marketplace credentials")

// marketplaceLocation is the timezone the settlement API expects epoch-milli
// boundaries in.
var marketplaceLocation = loadMarketplaceLocation()

func loadMarketplaceLocation() *time.Location {
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		return time.FixedZone("TRT", 3*60*60)
	}
	return loc
}

type settlementClient struct {
	baseURL    string
	sellerId   string
	authHeader string
	userAgent  string
	storeId    uuid.UUID
	http       *http.Client
	gate       *RateGate
	retry      retryPolicy
}

func newSettlementClient(store *models.Store, gate *RateGate) (*settlementClient, error) {
	if store.Status != models.StoreStatusConnected {
		return nil, ErrStoreNotConnected
	}
	apiKey, err := utils.OpenCredential(store.ApiKeyEnc)
	if err != nil {
		return nil, err
	}
	apiSecret, err := utils.OpenCredential(store.ApiSecretEnc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(store.SellerId) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, ErrStoreNotConnected
	}

	baseURL := strings.TrimSpace(os.Getenv("SETTLEMENT_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://apigw.trendyol.com"
	}

	auth := base64.StdEncoding.EncodeToString([]byte(apiKey + ":" + apiSecret))

	return &settlementClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sellerId:   store.SellerId,
		authHeader: "Basic " + auth,
		userAgent:  store.SellerId + " - SelfIntegration",
		storeId:    store.ID,
		http:       &http.Client{Timeout: 30 * time.Second},
		gate:       gate,
		retry:      defaultRetryPolicy(),
	}, nil
}

type settlementPage struct {
	Content       []SettlementRow `json:"content"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	TotalElements int64           `json:"totalElements"`
	TotalPages    int             `json:"totalPages"`
}

// fetchPage pulls one page of one transaction kind for a date window. Every
// call waits on the store's rate gate first and runs under the retry policy.
func (c *settlementClient) fetchPage(ctx context.Context, kind string, start, end time.Time, page int) (*settlementPage, error) {
	params := url.Values{}
	params.Set("transactionType", kind)
	params.Set("startDate", strconv.FormatInt(toEpochMillis(start), 10))
	params.Set("endDate", strconv.FormatInt(toEpochMillis(end), 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(pageSize))

	endpoint := c.baseURL + fmt.Sprintf(settlementEndpoint, c.sellerId) + "?" + params.Encode()

	var parsed settlementPage
	err := c.retry.do(ctx, func() error {
		if err := c.gate.Acquire(ctx, c.storeId); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &apiStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		parsed = settlementPage{}
		return json.Unmarshal(body, &parsed)
	})
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// hasData probes one kind over a window (capped at the API's 15-day limit).
// Probe failures count as "no data"; the origin search degrades safely.
func (c *settlementClient) hasData(ctx context.Context, kind string, start, end time.Time) bool {
	capped := start.AddDate(0, 0, 14)
	if end.After(capped) {
		end = capped
	}
	probeStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, marketplaceLocation)
	probeEnd := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, marketplaceLocation)

	page, err := c.fetchPage(ctx, kind, probeStart, probeEnd, 0)
	if err != nil {
		return false
	}
	return page.TotalElements > 0 || len(page.Content) > 0
}

func toEpochMillis(t time.Time) int64 {
	return t.In(marketplaceLocation).UnixMilli()
}

func fromEpochMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).In(marketplaceLocation)
	return &t
}
