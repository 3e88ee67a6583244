package marketsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"bitbucket.org/mmdatafocus/sellersync_backend/utils"
	"github.com/google/uuid"
)

func testStore(t *testing.T) *models.Store {
	t.Helper()
	key := make([]byte, 32)
	t.Setenv("CREDENTIALS_KEY", base64.StdEncoding.EncodeToString(key))

	apiKeyEnc, err := utils.SealCredential("test-key")
	if err != nil {
		t.Fatalf("seal key: %v", err)
	}
	apiSecretEnc, err := utils.SealCredential("test-secret")
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}
	return &models.Store{
		ID:           uuid.New(),
		Marketplace:  models.MarketplaceTrendyol,
		SellerId:     "123456",
		Status:       models.StoreStatusConnected,
		ApiKeyEnc:    apiKeyEnc,
		ApiSecretEnc: apiSecretEnc,
	}
}

func testClient(t *testing.T, handler http.HandlerFunc) *settlementClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("SETTLEMENT_API_BASE_URL", srv.URL)

	client, err := newSettlementClient(testStore(t), NewRateGate(1000))
	if err != nil {
		t.Fatalf("newSettlementClient: %v", err)
	}
	client.retry.sleep = func(time.Duration) {}
	return client
}

func TestSettlementClient_RequestShape(t *testing.T) {
	var gotPath, gotAuth, gotUA string
	var gotQuery map[string]string

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		json.NewEncoder(w).Encode(settlementPage{TotalPages: 1})
	})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, marketplaceLocation)
	end := time.Date(2024, 3, 14, 23, 59, 59, 0, marketplaceLocation)
	if _, err := client.fetchPage(context.Background(), "Sale", start, end, 2); err != nil {
		t.Fatalf("fetchPage: %v", err)
	}

	if want := "/integration/finance/che/sellers/123456/settlements"; gotPath != want {
		t.Fatalf("path = %q, expected %q", gotPath, want)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("test-key:test-secret"))
	if gotAuth != wantAuth {
		t.Fatalf("auth = %q, expected %q", gotAuth, wantAuth)
	}
	if want := "123456 - SelfIntegration"; gotUA != want {
		t.Fatalf("user-agent = %q, expected %q", gotUA, want)
	}
	if gotQuery["transactionType"] != "Sale" {
		t.Fatalf("transactionType = %q", gotQuery["transactionType"])
	}
	if gotQuery["page"] != "2" || gotQuery["size"] != "1000" {
		t.Fatalf("paging params = page %q size %q", gotQuery["page"], gotQuery["size"])
	}
	if gotQuery["startDate"] == "" || gotQuery["endDate"] == "" {
		t.Fatal("expected epoch-milli date params")
	}
}

func TestSettlementClient_ServerErrorSurfacesStatus(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "upstream broke", http.StatusBadGateway)
	})

	_, err := client.fetchPage(context.Background(), "Sale", time.Now().AddDate(0, 0, -7), time.Now(), 0)
	if err == nil {
		t.Fatal("expected error from 502")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts against 5xx, got %d", calls)
	}
}

func TestSettlementClient_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such seller", http.StatusForbidden)
	})

	_, err := client.fetchPage(context.Background(), "Sale", time.Now().AddDate(0, 0, -7), time.Now(), 0)
	if err == nil {
		t.Fatal("expected error from 403")
	}
	if calls != 1 {
		t.Fatalf("expected single attempt against 403, got %d", calls)
	}
}

func TestSettlementClient_HasDataProbes(t *testing.T) {
	var responses []settlementPage
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if len(responses) == 0 {
			http.Error(w, "broken", http.StatusBadRequest)
			return
		}
		next := responses[0]
		responses = responses[1:]
		json.NewEncoder(w).Encode(next)
	})

	start := time.Now().AddDate(0, 0, -14)
	end := time.Now()

	responses = []settlementPage{{TotalElements: 3}}
	if !client.hasData(context.Background(), "Sale", start, end) {
		t.Fatal("expected data when totalElements > 0")
	}

	responses = []settlementPage{{TotalElements: 0}}
	if client.hasData(context.Background(), "Sale", start, end) {
		t.Fatal("expected no data when page is empty")
	}

	// Probe failures count as no data.
	responses = nil
	if client.hasData(context.Background(), "Sale", start, end) {
		t.Fatal("expected probe error to read as no data")
	}
}
